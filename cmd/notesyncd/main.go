package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notesmd/notesync/internal/httpapi"
	"github.com/notesmd/notesync/internal/notestore"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	addr := os.Getenv("NOTESYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	storeDSN := os.Getenv("NOTESYNC_STORE_DSN")
	if storeDSN == "" {
		storeDSN = "memory://"
	}

	store, err := notestore.BuildStoreFromDSN(storeDSN)
	if err != nil {
		logger.Error("failed to initialize note store", "dsn", storeDSN, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		Logger:     logger,
		ReadLimit:  int64Env("NOTESYNC_READ_LIMIT", 0),
		SessionTTL: durationEnv("NOTESYNC_SESSION_TTL", 0),
	})
	seedAccount(server, logger)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("notesyncd listening", "addr", addr, "store", storeDSN)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}
}

// seedAccount registers a bootstrap user when configured, so a fresh
// deployment has a login before any signup traffic arrives.
func seedAccount(server *httpapi.Server, logger *slog.Logger) {
	username := os.Getenv("NOTESYNC_SEED_USER")
	password := os.Getenv("NOTESYNC_SEED_PASSWORD")
	if username == "" || password == "" {
		return
	}
	if err := server.Accounts().Signup(username, password); err != nil {
		logger.Warn("seed account not created", "user", username, "err", err)
		return
	}
	logger.Info("seed account created", "user", username)
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("invalid env value, using fallback", "name", name, "value", raw)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid env value, using fallback", "name", name, "value", raw)
		return fallback
	}
	return value
}
