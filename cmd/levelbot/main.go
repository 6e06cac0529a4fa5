package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notepid/levelbot/internal/config"
	"github.com/notepid/levelbot/internal/store"
	"github.com/notepid/levelbot/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, "levelbot")
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	// Open the store (schema, legacy migration, checkpoint worker)
	s, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	tenants, err := s.Tenants.List(ctx)
	if err != nil {
		log.Printf("Warning: failed to list tenants: %v", err)
	}
	log.Printf("Store ready: %d tenants, max level %d", len(tenants), s.Engine.MaxLevel())

	// --- Health server ---
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := s.DB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Health server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	fmt.Printf("\nlevelbot store is running\n")
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Health:   port %d\n", cfg.Server.HealthPort)
	fmt.Println("\nPress Ctrl+C to shut down.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Health server shutdown: %v", err)
	}
	if err := s.Close(); err != nil {
		log.Printf("Store close: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown: %v", err)
	}

	log.Printf("levelbot shut down complete.")
}
