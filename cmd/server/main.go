package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replichat/server/internal/httpapi"
	"replichat/server/internal/poke"
	"replichat/server/internal/replicache"
	"replichat/server/internal/storage"
)

func main() {
	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	dsn := os.Getenv("SYNC_DSN")
	if dsn == "" {
		dsn = "sync.db"
	}

	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}

	processor := replicache.NewProcessor(store, replicache.DefaultRegistry())
	hub := poke.NewHub()
	api := httpapi.NewServerWithConfig(store, processor, hub, httpapi.Config{
		BeatInterval: durationEnv("SYNC_BEAT_INTERVAL", 30*time.Second),
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.RequestLogger(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}
