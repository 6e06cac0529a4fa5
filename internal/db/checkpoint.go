package db

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CheckpointMode selects how aggressively a WAL checkpoint runs.
type CheckpointMode string

const (
	// CheckpointPassive copies as many frames as possible without waiting on
	// readers or writers.
	CheckpointPassive CheckpointMode = "PASSIVE"
	// CheckpointTruncate blocks until the log is fully copied and then
	// truncates the WAL file.
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// CheckpointResult mirrors the row returned by PRAGMA wal_checkpoint.
type CheckpointResult struct {
	Busy         bool
	LogFrames    int
	Checkpointed int
}

// Checkpoint flushes the write-ahead log into the main database file.
func (db *DB) Checkpoint(ctx context.Context, mode CheckpointMode) (CheckpointResult, error) {
	switch mode {
	case CheckpointPassive, CheckpointTruncate:
	default:
		return CheckpointResult{}, fmt.Errorf("unsupported checkpoint mode %q", mode)
	}

	var res CheckpointResult
	var busy int
	err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+string(mode)+")").
		Scan(&busy, &res.LogFrames, &res.Checkpointed)
	if err != nil {
		return CheckpointResult{}, fmt.Errorf("checkpoint %s: %w", mode, Classify(err))
	}
	res.Busy = busy != 0
	return res, nil
}

func (db *DB) checkpointLoop(interval time.Duration) {
	defer close(db.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			if _, err := db.Checkpoint(context.Background(), CheckpointPassive); err != nil {
				log.Printf("Warning: passive checkpoint failed: %v", err)
			}
		}
	}
}
