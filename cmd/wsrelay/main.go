// Command wsrelay runs a WebSocket relay node. It holds the live client
// connections, forwards inbound envelopes to the shared broadcast subject,
// and fans every relayed event out to all connections on this node. The
// node never inspects who an event is for; clients filter by session and
// user IDs themselves.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/chancechat/chance/internal/config"
	"github.com/chancechat/chance/internal/event"
	"github.com/chancechat/chance/internal/ratelimit"
	"github.com/chancechat/chance/internal/relay"
	"github.com/chancechat/chance/internal/ws"
)

func main() {
	cfg := config.Load()

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.WSAddr
	if cfg.WorkerPoolSize > 0 {
		serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	}
	if cfg.MaxConnections > 0 {
		serverConfig.MaxConnections = cfg.MaxConnections
	}
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	log.Printf("Chance wsrelay starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  server_name:     %s", cfg.ServerName)

	// --- NATS relay ---
	relayConfig := relay.DefaultConfig()
	relayConfig.URL = cfg.NATSURL
	relayConfig.Name = cfg.ServerName + "-wsrelay"
	relayClient, err := relay.Connect(relayConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Inbound frames must be known envelopes; anything else is dropped.
	// Valid frames are forwarded byte for byte so field order, IDs and
	// timestamps survive the relay untouched.
	server := ws.NewServer(serverConfig, func(conn *ws.Connection, data []byte) {
		eventType, _, err := event.Parse(data)
		if err != nil {
			log.Printf("[wsrelay] dropping frame from conn=%s: %v", conn.ID, err)
			return
		}
		if err := relayClient.Publish(data); err != nil {
			log.Printf("[wsrelay] publish %s from conn=%s failed: %v", eventType, conn.ID, err)
		}
	})

	// Everything on the broadcast subject goes to every local connection,
	// including events this node published itself.
	if err := relayClient.Subscribe(func(data []byte) {
		server.Broadcast(data)
	}); err != nil {
		log.Fatalf("failed to subscribe to relay: %v", err)
	}

	// Per-IP connect limiting; the limiter fails open on Redis errors.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	server.SetLimiter(ratelimit.NewLimiter(rdb).Bind(ratelimit.RuleConnect))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		relayClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		_ = rdb.Close()
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
