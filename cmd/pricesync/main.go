package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jjeknow/coupang-price-sub000/internal/config"
	"github.com/jjeknow/coupang-price-sub000/internal/deeplink"
	"github.com/jjeknow/coupang-price-sub000/internal/ingest"
	"github.com/jjeknow/coupang-price-sub000/internal/ratelimit"
	"github.com/jjeknow/coupang-price-sub000/internal/server"
	"github.com/jjeknow/coupang-price-sub000/internal/sign"
	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var windows ratelimit.WindowStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		windows = ratelimit.NewRedisStore(rdb)
		log.Printf("rate limit windows shared via redis at %s", cfg.RedisAddr)
	} else {
		windows = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(windows)

	client := upstream.New(upstream.Config{}, sign.New(cfg.AccessKey, cfg.SecretKey), limiter)

	pipelineCfg := ingest.DefaultConfig()
	pipelineCfg.BatchDelay = cfg.BatchDelay
	pipeline := ingest.New(db, client, pipelineCfg)

	resolver := deeplink.New(db, client)

	srv := server.New(server.Config{
		Addr:       cfg.Addr,
		TLSDomain:  cfg.TLSDomain,
		SyncSecret: cfg.SyncSecret,
		AdminKey:   cfg.AdminKey,
	}, pipeline, resolver, client, db)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if cfg.SyncInterval > 0 {
		go runOnTicker(pipeline, cfg.SyncInterval)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	log.Printf("price-sync running on %s", cfg.Addr)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// runOnTicker runs the pipeline periodically for deployments without an
// external cron.
func runOnTicker(p *ingest.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		summary := p.Run(context.Background())
		if !summary.Success {
			log.Printf("scheduled sync failed: %v", summary.Errors)
		}
	}
}
