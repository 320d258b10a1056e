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

	"github.com/redis/go-redis/v9"

	"beacon/api/internal/app"
	"beacon/api/internal/config"
	"beacon/api/internal/prefs"
	"beacon/api/internal/query"
	"beacon/api/internal/saved"
	"beacon/api/internal/search"
	"beacon/api/internal/session"
	"beacon/api/internal/store"
	"beacon/api/migrations"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	querySvc := query.NewService(db, cfg.CuratedCity).WithTimeout(cfg.QueryTimeout)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Redis is optional: it carries refresh tokens and the saved-filter list
	// cache. Without it both fall back to Postgres.
	var service *app.Service
	var savedRepo *saved.Repository
	resolver := prefs.NewResolver(dataStore)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and saved-filter caching")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url invalid: %v", err)
		}
		cacheClient := redis.NewClient(opts)
		defer cacheClient.Close()

		savedRepo = saved.NewRepository(dataStore, cacheClient, cfg.SavedListTTL)
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, querySvc, searchService, savedRepo, resolver)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage, saved-filter caching disabled")
		savedRepo = saved.NewRepository(dataStore, nil, cfg.SavedListTTL)
		service = app.New(cfg, dataStore, querySvc, searchService, savedRepo, resolver)
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Beacon API listening on %s", cfg.Addr)
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
}
