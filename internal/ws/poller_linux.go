//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Poller multiplexes read readiness across all relay connections using
// Linux epoll. One kernel wait replaces a read goroutine per connection,
// which keeps a relay node cheap at high fan-out.
type Poller struct {
	epfd   int
	mu     sync.RWMutex
	conns  map[int]net.Conn
	events []unix.EpollEvent
}

// NewPoller creates an epoll instance via epoll_create1.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Watch registers a connection for read and hangup notifications.
func (p *Poller) Watch(conn net.Conn) error {
	fd := socketFD(conn)
	err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()
	return nil
}

// Unwatch removes a connection from the interest list.
func (p *Poller) Unwatch(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one watched connection is readable and returns
// the ready connections. Descriptors unwatched between the kernel wait and
// the map lookup are skipped.
func (p *Poller) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.epfd, p.events, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = nil
	return unix.Close(p.epfd)
}

// socketFD extracts the file descriptor from a net.Conn without duplicating
// it (File() dups, which would leave epoll watching a dead descriptor).
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
