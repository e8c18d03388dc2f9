package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notesmd/notesync/internal/clientsync"
	"github.com/notesmd/notesync/internal/identity"
	"github.com/notesmd/notesync/internal/notestore"
)

func main() {
	_ = godotenv.Load()

	target := os.Getenv("NOTESYNC_TARGET")
	if target == "" {
		log.Fatal("NOTESYNC_TARGET is required (e.g. ws://localhost:8080/ws)")
	}
	creds, err := credentialSourceFromEnv()
	if err != nil {
		log.Fatalf("failed to configure credentials: %v", err)
	}

	mirrorDSN := os.Getenv("NOTESYNC_MIRROR_DSN")
	if mirrorDSN == "" {
		mirrorDSN = "file://.notesync/mirror.json"
	}
	mirror, err := notestore.BuildStoreFromDSN(mirrorDSN)
	if err != nil {
		log.Fatalf("failed to open mirror: %v", err)
	}
	defer mirror.Close()

	engine, err := clientsync.NewEngine(clientsync.Config{
		Target:      target,
		Credentials: creds,
		Mirror:      mirror,
		Logger:      log.Default(),
		MaxAttempts: intEnv("NOTESYNC_MAX_ATTEMPTS", 0),
		RetryDelay:  durationEnv("NOTESYNC_RETRY_DELAY", 0),
		OnStateChange: func(s clientsync.State) {
			log.Printf("connection state: %s", s)
		},
	})
	if err != nil {
		log.Fatalf("failed to build sync engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("notesync-agent connecting to %s (mirror %s)", target, mirrorDSN)
	if err := engine.Connect(ctx); err != nil {
		switch {
		case errors.Is(err, identity.ErrUnauthorized):
			log.Fatalf("connection rejected, re-authenticate and restart: %v", err)
		case errors.Is(err, context.Canceled):
			return
		default:
			log.Fatalf("could not establish connection: %v", err)
		}
	}

	<-ctx.Done()
	log.Print("shutting down")
	if err := engine.Close(); err != nil {
		log.Printf("engine close: %v", err)
	}
}

func credentialSourceFromEnv() (identity.Source, error) {
	if token := os.Getenv("NOTESYNC_TOKEN"); token != "" {
		return identity.StaticTokenSource(token), nil
	}
	if base := os.Getenv("NOTESYNC_PROFILE_URL"); base != "" {
		return &identity.ProfileSource{BaseURL: base}, nil
	}
	return nil, errors.New("set NOTESYNC_TOKEN or NOTESYNC_PROFILE_URL")
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
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
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
