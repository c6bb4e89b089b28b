package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single live client connection on this relay node, with a
// write mutex serializing outbound frames.
type Connection struct {
	ID         string    // connection ID (UUID)
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for poller lookups
	OpenedAt   time.Time // when the connection was established
	LastActive time.Time // last successful read or keepalive

	writeMu    sync.Mutex
	processing int32 // atomic flag: 0 = idle, 1 = being read
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex keeps concurrent goroutines from interleaving frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame; browsers answer with a pong
// automatically.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Registry tracks the live connections on the current process, with O(1)
// lookup by connection ID and by file descriptor. Events delivered by the
// relay are broadcast to every registered connection; recipients filter
// client-side.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Remove deletes a connection by ID and closes it. It returns whether the
// connection was still registered, so racing removers (read error plus
// heartbeat timeout) clean up exactly once.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byFd, conn.Fd)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping the given net.Conn, or nil.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of the current connections, safe to iterate
// without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// Broadcast writes data to every live connection. Individual write failures
// are ignored; a dead connection is evicted when its next read fails or the
// heartbeat gives up on it.
func (r *Registry) Broadcast(data []byte) {
	for _, conn := range r.All() {
		_ = conn.WriteMessage(data)
	}
}
