package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Slot tracks one admitted connection for the lifetime of its worker.
// The acceptor owns the slot; the worker only flips its run and active flags.
type Slot struct {
	Index       int
	ClientID    int
	RemoteAddr  string
	ConnectedAt time.Time

	conn      net.Conn
	run       atomic.Bool
	active    atomic.Bool
	received  atomic.Uint64
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// SlotInfo is a point-in-time view of a slot for monitoring
type SlotInfo struct {
	Index       int       `json:"index"`
	ClientID    int       `json:"client_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Active      bool      `json:"active"`
	Received    uint64    `json:"messages_received"`
}

func newSlot(index, clientID int, conn net.Conn, now time.Time) *Slot {
	return &Slot{
		Index:       index,
		ClientID:    clientID,
		RemoteAddr:  remoteAddr(conn),
		ConnectedAt: now,
		conn:        conn,
		done:        make(chan struct{}),
	}
}

// Active reports whether the slot's worker is still running
func (s *Slot) Active() bool {
	return s.active.Load()
}

// Received returns the number of messages the slot's worker stored
func (s *Slot) Received() uint64 {
	return s.received.Load()
}

// Done is closed when the slot's worker has exited
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the slot
func (s *Slot) Info() SlotInfo {
	return SlotInfo{
		Index:       s.Index,
		ClientID:    s.ClientID,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Active:      s.active.Load(),
		Received:    s.received.Load(),
	}
}

// close closes the connection once; both the worker and the acceptor call it
func (s *Slot) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
