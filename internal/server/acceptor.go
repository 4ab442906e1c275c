package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/skypro1111/tcp-collector/internal/config"
	"github.com/skypro1111/tcp-collector/internal/metrics"
	"github.com/skypro1111/tcp-collector/internal/store"
)

// State is the acceptor lifecycle state
type State int32

const (
	StateStarting State = iota
	StateAccepting
	StateFull
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAccepting:
		return "accepting"
	case StateFull:
		return "full"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Run is called more than once
var ErrAlreadyStarted = errors.New("acceptor already started")

// deadliner is implemented by *net.TCPListener
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Acceptor admits client connections up to a fixed capacity and runs one
// worker per admitted connection. Slots are consumed once and never reused.
type Acceptor struct {
	listener net.Listener
	config   *config.ServerConfig
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock

	// prepare readies an accepted connection before it gets a slot
	prepare func(net.Conn) error

	run     atomic.Bool
	started atomic.Bool
	state   atomic.Int32
	stopped chan struct{}

	// Slot arena; used only grows
	mu           sync.RWMutex
	slots        []*Slot
	used         int
	nextID       int
	accepted     uint64
	rejected     uint64
	acceptErrors uint64
}

// AcceptorStatistics represents acceptor counters for monitoring
type AcceptorStatistics struct {
	State             string `json:"state"`
	Capacity          int    `json:"capacity"`
	SlotsUsed         int    `json:"slots_used"`
	ActiveConnections int    `json:"active_connections"`
	Accepted          uint64 `json:"accepted"`
	Rejected          uint64 `json:"rejected"`
	AcceptErrors      uint64 `json:"accept_errors"`
}

// NewAcceptor creates an acceptor for an already bound listener
func NewAcceptor(listener net.Listener, cfg *config.ServerConfig, st *store.Store,
	logger *slog.Logger, m *metrics.Metrics, clk clock.Clock) *Acceptor {

	if clk == nil {
		clk = clock.New()
	}

	a := &Acceptor{
		listener: listener,
		config:   cfg,
		store:    st,
		logger:   logger,
		metrics:  m,
		clock:    clk,
		prepare:  prepareConn,
		slots:    make([]*Slot, cfg.MaxClients),
		nextID:   1,
		stopped:  make(chan struct{}),
	}
	a.run.Store(true)
	a.state.Store(int32(StateStarting))

	return a
}

// Run accepts connections until Stop is called or ctx is cancelled, then
// tears down every worker. It returns once all workers have exited.
func (a *Acceptor) Run(ctx context.Context) error {
	// Run may only be entered once per acceptor
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(a.stopped)

	// Begin admitting clients
	a.setState(StateAccepting)
	a.logger.Info("Acceptor started",
		slog.String("address", a.listener.Addr().String()),
		slog.Int("capacity", a.config.MaxClients),
		slog.Duration("poll_interval", a.config.GetAcceptPollDuration()),
	)

	// Accept until stopped, then tear down every worker
	a.acceptLoop(ctx)
	a.drain()

	a.setState(StateStopped)
	return nil
}

// Stop clears the run flag; Run notices within one poll interval
func (a *Acceptor) Stop() {
	a.run.Store(false)
}

// Done is closed once Run has returned
func (a *Acceptor) Done() <-chan struct{} {
	return a.stopped
}

// State returns the current lifecycle state
func (a *Acceptor) State() State {
	return State(a.state.Load())
}

func (a *Acceptor) setState(s State) {
	a.state.Store(int32(s))
}

func (a *Acceptor) running(ctx context.Context) bool {
	return a.run.Load() && ctx.Err() == nil
}

// acceptLoop is the main accepting loop
func (a *Acceptor) acceptLoop(ctx context.Context) {
	for a.running(ctx) {
		conn, err := a.accept()
		if err != nil {
			// Deadline expiry is the "would block" case: nothing pending yet
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}

			// Anything else ends accepting; it is only an error while still running
			if a.running(ctx) {
				a.mu.Lock()
				a.acceptErrors++
				a.mu.Unlock()
				a.metrics.RecordAcceptError()
				a.logger.Error("Accept failed unexpectedly", slog.String("error", err.Error()))
			}
			break
		}

		a.admit(conn)

		// Switch to FULL once the last slot has been handed out
		if a.State() == StateAccepting && a.full() {
			a.setState(StateFull)
			a.logger.Info("Capacity reached, no more clients will be admitted",
				slog.Int("capacity", a.config.MaxClients),
			)
		}
	}
}

// accept waits at most one poll interval for a pending connection
func (a *Acceptor) accept() (net.Conn, error) {
	if dl, ok := a.listener.(deadliner); ok {
		// Kernel deadlines run on wall time, not on the injected clock
		if err := dl.SetDeadline(time.Now().Add(a.config.GetAcceptPollDuration())); err != nil {
			return nil, errors.Wrap(err, "failed to set accept deadline")
		}
	}
	return a.listener.Accept()
}

// admit places conn in the next free slot or rejects it when capacity is exhausted
func (a *Acceptor) admit(conn net.Conn) {
	a.mu.Lock()

	// Capacity is consumed once; late arrivals are closed straight away
	if a.used >= len(a.slots) {
		a.rejected++
		a.mu.Unlock()

		a.metrics.RecordConnectionRejected()
		a.logger.Info("Not accepting any more clients!",
			slog.String("remote_addr", remoteAddr(conn)),
		)
		conn.Close()
		return
	}

	// A connection that cannot be prepared takes neither a slot nor a client id
	if err := a.prepare(conn); err != nil {
		a.mu.Unlock()
		a.logger.Error("Failed to start connection worker",
			slog.String("remote_addr", remoteAddr(conn)),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	// Fill the next slot and assign the next client id
	slot := newSlot(a.used, a.nextID, conn, a.clock.Now())
	slot.active.Store(true)
	slot.run.Store(true)
	a.slots[a.used] = slot
	a.used++
	a.nextID++
	a.accepted++
	a.mu.Unlock()

	// Record connection metrics
	a.metrics.RecordConnectionAccepted()
	a.logger.Info("Client connected!",
		slog.Int("client_id", slot.ClientID),
		slog.Int("slot", slot.Index),
		slog.String("remote_addr", slot.RemoteAddr),
	)

	// Start the connection worker
	go a.serve(slot)
}

// remoteAddr returns the peer address of conn, or an empty string when unknown
func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// prepareConn readies an accepted connection for its worker. The accepted
// socket stays in blocking mode; only the listener is polled.
func prepareConn(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.Wrap(err, "failed to enable keepalive")
	}
	return nil
}

func (a *Acceptor) full() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.used >= len(a.slots)
}

// drain stops every worker that was ever started and waits for it to exit
func (a *Acceptor) drain() {
	a.setState(StateDraining)
	a.logger.Info("Acceptor finished accepting clients. Cleaning up...")

	// Snapshot the slots so workers can be joined without holding the lock
	a.mu.RLock()
	slots := make([]*Slot, 0, a.used)
	for _, slot := range a.slots {
		if slot != nil {
			slots = append(slots, slot)
		}
	}
	a.mu.RUnlock()

	for _, slot := range slots {
		slot.run.Store(false)
		// Closing unblocks a worker parked in Read
		slot.close()
		<-slot.done

		// Clear the slot once its worker has exited
		a.mu.Lock()
		a.slots[slot.Index] = nil
		a.mu.Unlock()

		a.logger.Debug("Client slot cleared",
			slog.Int("client_id", slot.ClientID),
			slog.Uint64("messages_received", slot.Received()),
		)
	}

	a.logger.Info("All client threads cleaned up.", slog.Int("workers", len(slots)))
}

// Slots returns a snapshot of every occupied slot
func (a *Acceptor) Slots() []SlotInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	infos := make([]SlotInfo, 0, a.used)
	for _, slot := range a.slots {
		if slot != nil {
			infos = append(infos, slot.Info())
		}
	}
	return infos
}

// GetSlot looks up an occupied slot by client identifier
func (a *Acceptor) GetSlot(clientID int) (SlotInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, slot := range a.slots {
		if slot != nil && slot.ClientID == clientID {
			return slot.Info(), true
		}
	}
	return SlotInfo{}, false
}

// ActiveCount returns the number of workers currently running
func (a *Acceptor) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := 0
	for _, slot := range a.slots {
		if slot != nil && slot.Active() {
			active++
		}
	}
	return active
}

// GetStatistics returns current acceptor statistics
func (a *Acceptor) GetStatistics() AcceptorStatistics {
	active := a.ActiveCount()

	a.mu.RLock()
	defer a.mu.RUnlock()

	return AcceptorStatistics{
		State:             a.State().String(),
		Capacity:          len(a.slots),
		SlotsUsed:         a.used,
		ActiveConnections: active,
		Accepted:          a.accepted,
		Rejected:          a.rejected,
		AcceptErrors:      a.acceptErrors,
	}
}
