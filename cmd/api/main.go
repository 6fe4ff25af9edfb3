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

	"folio/api/internal/app"
	"folio/api/internal/blob"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/export"
	"folio/api/internal/gitmirror"
	"folio/api/internal/payment"
	"folio/api/internal/search"
	"folio/api/internal/split"
	"folio/api/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}

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

	if err := os.MkdirAll(cfg.MirrorsDir, 0o755); err != nil {
		log.Fatalf("failed to create mirrors dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}
	searchService.ReindexAllFromPG(ctx)

	deps := app.ServiceDeps{
		Search:   searchService,
		Mirrors:  gitmirror.New(cfg.MirrorsDir),
		Exporter: export.NewService(),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		historyCache, err := cache.NewHistoryCache(cfg.RedisURL, cfg.HistoryCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer historyCache.Close()
		deps.Cache = historyCache
	} else {
		log.Printf("Redis not configured, history caching disabled")
	}

	if strings.TrimSpace(cfg.PaymentURL) != "" {
		gateway := payment.NewClient(cfg.PaymentURL)
		deps.Splitter = split.New(gateway, cfg.PaymentTimeout)
	} else {
		log.Printf("Payment gateway not configured, revenue splits disabled")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		artifacts, err := blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		deps.Artifacts = artifacts
	} else {
		log.Printf("Object storage not configured, export artifacts not persisted")
	}

	service := app.NewService(dataStore, deps)

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
		log.Printf("Folio API listening on %s", cfg.Addr)
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
