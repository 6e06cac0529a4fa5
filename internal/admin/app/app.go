package app

import (
	"context"

	"github.com/notepid/levelbot/internal/config"
	"github.com/notepid/levelbot/internal/store"
)

// App is what the admin console screens operate on.
type App struct {
	ConfigPath string
	Config     *config.Config
	Store      *store.Store
}

// New opens the store described by configPath. The store may be shared with
// a running service; WAL mode and the busy timeout keep both usable.
func New(configPath string) (*App, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}

	a := &App{
		ConfigPath: configPath,
		Config:     cfg,
		Store:      s,
	}

	cleanup := func() {
		_ = s.Close()
	}

	return a, cleanup, nil
}
