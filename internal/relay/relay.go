// Package relay provides the publish/subscribe fan-out that carries
// match_found, chat_message, and session_ended events to every connected
// process, regardless of which node accepted the triggering request. It
// wraps a NATS connection with the lifecycle and subject conventions used
// across Chance services.
//
// Delivery is best-effort and at-most-once per subscriber. Only
// per-publisher FIFO order is guaranteed; events from different publishers
// may interleave arbitrarily. Every subscriber also receives events this
// process published itself, so self-echo suppression (ignoring events whose
// sender is the local actor) is a required subscriber behavior, not an
// optimization.
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chancechat/chance/internal/metrics"
)

// SubjectBroadcast is the single shared subject every relay node subscribes
// to. All realtime events flow through it; recipients filter client-side.
const SubjectBroadcast = "broadcast"

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "chance",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client is the relay handle shared by the matchmaker and the WebSocket
// nodes. It is constructed once at startup and injected; there is no
// package-level singleton.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS with the given config and returns a ready client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[relay] disconnected: %v", err)
			} else {
				log.Printf("[relay] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[relay] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[relay] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: connect: %w", err)
	}

	log.Printf("[relay] connected to %s", nc.ConnectedUrl())
	return &Client{conn: nc}, nil
}

// Publish sends raw bytes to the broadcast subject. The error is returned so
// callers that care (tests, the relay node's forwarding path) can log it,
// but business logic must treat it as non-fatal.
func (c *Client) Publish(data []byte) error {
	return c.conn.Publish(SubjectBroadcast, data)
}

// PublishEvent marshals a typed event and publishes it to the broadcast
// subject. Marshal failures are programming errors and are returned; publish
// failures are returned for logging but must never abort the caller's
// business operation.
func (c *Client) PublishEvent(ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal event: %w", err)
	}

	var typed struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &typed)
	metrics.EventsPublished.WithLabelValues(typed.Type).Inc()

	if err := c.conn.Publish(SubjectBroadcast, data); err != nil {
		return fmt.Errorf("relay: publish %s: %w", typed.Type, err)
	}
	return nil
}

// Subscribe registers a handler for every event on the broadcast subject.
// Each process subscribes once at startup. The handler receives events from
// all publishers, including this process.
func (c *Client) Subscribe(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectBroadcast, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", SubjectBroadcast, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[relay] drain subscription: %v", err)
		}
	}
	c.subs = nil

	if err := c.conn.Drain(); err != nil {
		log.Printf("[relay] connection drain: %v", err)
	}
	log.Printf("[relay] client closed")
}
