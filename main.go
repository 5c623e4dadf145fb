package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"chat-backend/internal/broker"
	"chat-backend/internal/config"
	"chat-backend/internal/hub"
	"chat-backend/internal/server"
	"chat-backend/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	st, err := openStore(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("Store initialized", "backend", cfg.StoreBackend)

	h := hub.New(logger)
	b := broker.New(h, st, logger)
	srv := server.New(st, h, b, cfg.SendBuffer, logger)

	mux := http.NewServeMux()
	srv.Register(mux)
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	slog.Info("Starting server", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendBadger:
		return store.NewBadgerStore(cfg.BadgerPath, logger)
	case config.BackendMemory:
		slog.Warn("Using in-memory store, messages will not survive restart")
		return store.NewMemoryStore(), nil
	default:
		return openPostgres(cfg)
	}
}

// openPostgres retries for a while so the server comes up cleanly when the
// database container is still starting.
func openPostgres(cfg *config.Config) (*store.PostgresStore, error) {
	var st *store.PostgresStore
	var err error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err = store.NewPostgresStore(ctx, cfg.DBConnString())
		cancel()
		if err == nil {
			return st, nil
		}
		slog.Warn("Waiting for database to be ready...", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	return nil, err
}
