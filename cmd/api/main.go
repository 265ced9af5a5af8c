package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"location-api/backend"
	"location-api/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// nunca falha: sem Redis o processo segue com o store local
	binding := backend.Bind(ctx, backend.Options{
		RedisURL:        cfg.RedisURL,
		Timeout:         cfg.RedisTimeout,
		CachePrefix:     cfg.CachePrefix,
		RateLimitPrefix: cfg.RateLimitPrefix,
		StrictScript:    cfg.RateLimitStrict,
		JanitorEvery:    cfg.RateJanitorEvery,
		Stats: backend.StatsOptions{
			Enabled:   cfg.RateStatsEnabled,
			Prefix:    cfg.RateStatsPrefix,
			TTL:       cfg.RateStatsTTL,
			TrackKeys: cfg.RateStatsTrackKeys,
		},
	})
	defer func() { _ = binding.Close() }()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newServer(cfg, binding, log.Default()).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("api listening on %s", cfg.ListenAddr)
	log.Printf("backend: mode=%s strict=%v timeout=%s", binding.Mode(), cfg.RateLimitStrict, cfg.RedisTimeout)
	log.Printf("rate: enabled=%v perMinute=%d authPerMinute=%d failOpen=%v keyHeader=%q trustXFF=%v",
		cfg.RateLimitEnabled, cfg.RateLimitPerMinute, cfg.AuthRateLimitPerMinute, cfg.RateLimitFailOpen, cfg.RateKeyHeader, cfg.TrustXFF)
	log.Printf("rate-stats: enabled=%v prefix=%q ttl=%s trackKeys=%v", cfg.RateStatsEnabled, cfg.RateStatsPrefix, cfg.RateStatsTTL, cfg.RateStatsTrackKeys)
	log.Printf("cache: ttl=%s prefix=%q", cfg.CacheTTL, cfg.CachePrefix)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
