package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmelnik/readmark/internal/api"
	"github.com/dmelnik/readmark/internal/config"
	"github.com/dmelnik/readmark/internal/content"
	"github.com/dmelnik/readmark/internal/highlight"
	"github.com/dmelnik/readmark/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Highlight store: local SQLite file or a remote backend.
	var (
		st      highlight.Store
		closeFn func() error
	)
	switch cfg.StoreMode {
	case "remote":
		c := store.NewClient(cfg.RemoteURL, cfg.RemoteAPIKey)
		st, closeFn = c, c.Close
	default:
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Error("open highlight store", "error", err)
			os.Exit(1)
		}
		st, closeFn = db, db.Close
	}

	lib := content.NewLibrary()
	srv := api.NewServer(lib, st, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		if err := closeFn(); err != nil {
			log.Error("close highlight store", "error", err)
		}
	}()

	log.Info("starting readmark", "port", cfg.Port, "store", cfg.StoreMode)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
