package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskboard/api/internal/app"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/update"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.Backfill(ctx)

	// Websocket tickets live in Redis when configured, Postgres otherwise.
	var (
		tickets interface {
			SaveTicket(ctx context.Context, ticketHash string, user store.User, expiresAt time.Time) error
			TakeTicket(ctx context.Context, ticketHash string) (store.User, error)
		} = dataStore
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for websocket tickets")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		tickets = redisStore
	} else {
		log.Printf("Using PostgreSQL for websocket tickets")
	}

	hub := realtime.NewHub()
	broadcaster := realtime.NewBroadcaster(hub)
	locks := update.NewLockTable(cfg.LockTTL, cfg.LockSweep)
	coordinator := update.NewCoordinator(dataStore, locks, broadcaster, searchService)
	wsServer := realtime.NewServer(hub, coordinator, tickets, auth.HashToken)

	service := app.New(cfg, dataStore, tickets, searchService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, wsServer.HandleWS)
	// No Read/WriteTimeout: /ws connections are long-lived; the realtime
	// layer enforces its own ping/pong deadlines.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Taskboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	hub.Shutdown()
	locks.Close()
}
