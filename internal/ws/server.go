// Package ws implements the relay node's WebSocket tier: upgrading HTTP
// connections, tracking live clients, and fanning relayed events out to
// every connection on this node. The tier is deliberately dumb about
// content; filtering and routing happen in the browser client.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/chancechat/chance/internal/event"
	"github.com/chancechat/chance/internal/metrics"
)

// ServerConfig holds tunable parameters for a relay node.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on connections for this node
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns production defaults for a single relay node.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// ConnectionLimiter gates new connections, typically per client IP.
type ConnectionLimiter interface {
	Allow(ctx context.Context, id string) bool
}

// Server is the WebSocket relay node built on gobwas/ws and Linux epoll.
// Connections are registered with a poller for readiness notifications and
// ready connections are read by a bounded worker pool. Every inbound data
// frame is handed to the onFrame callback (which publishes it to the event
// relay); Broadcast delivers relayed events to all local connections.
type Server struct {
	config     ServerConfig
	poller     *Poller
	registry   *Registry
	limiter    ConnectionLimiter
	workerPool chan struct{}
	onFrame    func(conn *Connection, data []byte)
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a relay node with the given configuration. onFrame is
// invoked from a worker goroutine for every complete inbound text frame.
func NewServer(config ServerConfig, onFrame func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		registry:   NewRegistry(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onFrame:    onFrame,
		done:       make(chan struct{}),
	}
}

// SetLimiter installs a per-IP connection rate limiter checked before the
// WebSocket upgrade.
func (s *Server) SetLimiter(l ConnectionLimiter) {
	s.limiter = l
}

// Start initializes the poller, begins the event loop and heartbeat, and
// blocks serving HTTP upgrades until Shutdown is called.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("[ws] relay node listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection, registers
// it, and sends the welcome event carrying the server timestamp.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !s.limiter.Allow(r.Context(), ip) {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	now := time.Now()
	c := &Connection{
		ID:         uuid.New().String(),
		Conn:       conn,
		Fd:         socketFD(conn),
		OpenedAt:   now,
		LastActive: now,
	}

	s.registry.Add(c)
	if err := s.poller.Watch(conn); err != nil {
		log.Printf("[ws] poller watch failed conn=%s: %v", c.ID, err)
		s.registry.Remove(c.ID)
		return
	}
	metrics.Connections.Inc()

	welcome, err := json.Marshal(event.NewWelcome())
	if err != nil {
		log.Printf("[ws] failed to build welcome for conn %s: %v", c.ID, err)
	} else if err := c.WriteMessage(welcome); err != nil {
		log.Printf("[ws] failed to send welcome to conn %s: %v", c.ID, err)
	}

	log.Printf("[ws] new connection conn=%s fd=%d (total=%d)", c.ID, c.Fd, s.registry.Count())
}

// handleHealth reports node health as JSON for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the poller wait loop, dispatching each ready
// connection to a worker goroutine bounded by the pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("[ws] poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads one WebSocket frame from a ready connection using
// wsutil.NextReader so control frames are handled without blocking on a data
// frame that may never arrive. Read failures evict the connection.
func (s *Server) readFrame(netConn net.Conn) {
	c := s.registry.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poller
		// dispatch); the heartbeat deals with dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastActive = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onFrame != nil {
		s.onFrame(c, data)
	}
}

// RemoveConnection evicts a connection from the poller and registry and
// closes it. Exported so the heartbeat can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Unwatch(c.Conn)

	// Racing removers (read error plus heartbeat timeout) clean up once.
	if !s.registry.Remove(c.ID) {
		return
	}
	metrics.Connections.Dec()

	log.Printf("[ws] connection closed conn=%s (total=%d)", c.ID, s.registry.Count())
}

// Broadcast writes data to every connection on this node. Delivery is
// best-effort; write failures on individual connections are ignored and the
// heartbeat eventually evicts the dead ones.
func (s *Server) Broadcast(data []byte) {
	conns := s.registry.All()
	for _, c := range conns {
		if s.config.WriteTimeout > 0 {
			_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}
		err := c.WriteMessage(data)
		_ = c.Conn.SetWriteDeadline(time.Time{})
		if err == nil {
			metrics.EventsDelivered.Inc()
		}
	}
}

// Connections returns the registry for external access, e.g. by the
// heartbeat monitor.
func (s *Server) Connections() *Registry {
	return s.registry
}

// Shutdown stops the HTTP listener, signals the event loop to exit, and
// closes all live connections.
func (s *Server) Shutdown() error {
	log.Println("[ws] shutting down relay node...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[ws] http shutdown error: %v", err)
	}

	for _, c := range s.registry.All() {
		_ = s.poller.Unwatch(c.Conn)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("[ws] relay node stopped, all connections closed")
	return nil
}

// isEINTR reports whether the error is an interrupted syscall, which is
// expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
