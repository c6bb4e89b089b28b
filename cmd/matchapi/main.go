// Command matchapi runs the matchmaking API: the HTTP endpoints for joining
// and leaving the wait queue, session status and teardown, plus the
// background sweeper that expires stale queue entries.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chancechat/chance/internal/api"
	"github.com/chancechat/chance/internal/config"
	"github.com/chancechat/chance/internal/directory"
	"github.com/chancechat/chance/internal/icebreaker"
	"github.com/chancechat/chance/internal/matching"
	"github.com/chancechat/chance/internal/postgres"
	"github.com/chancechat/chance/internal/ratelimit"
	"github.com/chancechat/chance/internal/relay"
	"github.com/chancechat/chance/internal/session"
)

func main() {
	cfg := config.Load()

	log.Printf("Chance matchapi starting")
	log.Printf("  http_addr:    %s", cfg.HTTPAddr)
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  match_window: %s", cfg.MatchWindow)
	log.Printf("  server_name:  %s", cfg.ServerName)

	// --- Postgres (runs migrations) ---
	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to redis: %v", err)
	}
	pingCancel()
	defer rdb.Close()

	// --- NATS relay ---
	relayConfig := relay.DefaultConfig()
	relayConfig.URL = cfg.NATSURL
	relayConfig.Name = cfg.ServerName + "-matchapi"
	relayClient, err := relay.Connect(relayConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer relayClient.Close()

	// --- Services ---
	users := directory.NewStore(db)
	sessions := session.NewStore(db, rdb)
	queue := matching.NewQueue(rdb)
	matcher := matching.NewMatcher(queue, users, sessions, relayClient, cfg.MatchWindow)
	limiter := ratelimit.NewLimiter(rdb)

	starters, err := icebreaker.New(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to create icebreaker generator: %v", err)
	}
	defer starters.Close()

	// Background sweep of expired queue entries.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	matching.StartSweeper(sweepCtx, matcher)

	handler := api.NewHandler(matcher, sessions, relayClient, starters, limiter)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(handler),
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
	}()

	log.Printf("matchapi listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("matchapi stopped")
}
