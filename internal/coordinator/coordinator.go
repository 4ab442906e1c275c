package coordinator

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/tcp-collector/internal/config"
	"github.com/skypro1111/tcp-collector/internal/metrics"
	"github.com/skypro1111/tcp-collector/internal/server"
	"github.com/skypro1111/tcp-collector/internal/store"
)

const httpShutdownTimeout = 5 * time.Second

// ErrNotStarted is returned by Wait when Start has not succeeded
var ErrNotStarted = errors.New("coordinator not started")

// Coordinator runs a single collection from bind to report
type Coordinator struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	out     io.Writer

	listener net.Listener
	store    *store.Store
	acceptor *server.Acceptor
	http     *server.HTTPServer
	group    *errgroup.Group

	startedAt time.Time
}

// New creates a coordinator. Report lines go to out; nil discards them.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, clk clock.Clock, out io.Writer) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if out == nil {
		out = io.Discard
	}

	return &Coordinator{
		config:  cfg,
		logger:  logger,
		metrics: m,
		clock:   clk,
		out:     out,
	}
}

// Start binds the listener, starts the acceptor and, when enabled, the HTTP monitor.
// Any error returned here is fatal for the run.
func (c *Coordinator) Start() error {
	if err := c.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	// Bind the collector listener
	addr := c.config.Server.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	c.listener = ln

	// Create the shared store and the acceptor that feeds it
	c.store = store.New(c.config.Server.MaxMessageLen).WithClock(c.clock.Now)
	c.acceptor = server.NewAcceptor(ln, &c.config.Server, c.store, c.logger, c.metrics, c.clock)
	c.startedAt = c.clock.Now()

	// Start the acceptor in the background
	c.group = &errgroup.Group{}
	c.group.Go(func() error {
		return c.acceptor.Run(context.Background())
	})

	// Start HTTP monitor (if enabled)
	if c.config.HTTP.Enabled {
		c.http = server.NewHTTPServer(c.config, c.logger, c.acceptor, c.store, c.metrics)
		if err := c.http.Start(); err != nil {
			// Undo the acceptor start so the run is left unstarted
			c.acceptor.Stop()
			if jerr := c.group.Wait(); jerr != nil {
				c.logger.Error("Acceptor failed during aborted start", slog.String("error", jerr.Error()))
			}
			c.listener.Close()
			c.listener = nil
			c.http = nil
			c.acceptor = nil
			return errors.Wrap(err, "failed to start HTTP monitor")
		}
	}

	c.logger.Info("Collection started",
		slog.String("address", ln.Addr().String()),
		slog.Int("max_clients", c.config.Server.MaxClients),
		slog.Int("messages_per_client", c.config.Collector.MessagesPerClient),
		slog.Int("target", c.config.Target()),
	)
	return nil
}

// Addr returns the bound collector address, or nil before Start
func (c *Coordinator) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Store returns the message store of the current run
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Acceptor returns the acceptor of the current run
func (c *Coordinator) Acceptor() *server.Acceptor {
	return c.acceptor
}

// Wait polls the store count until the target is reached, ctx is cancelled,
// the wait timeout elapses or the acceptor exits on its own. It then shuts
// the run down, drains the store and writes the report.
func (c *Coordinator) Wait(ctx context.Context) (*Report, error) {
	if c.acceptor == nil {
		return nil, ErrNotStarted
	}

	// Wait for the target, then tear down before draining
	reason := c.waitForTarget(ctx)
	c.logger.Info("Stopping collection", slog.String("reason", string(reason)))

	err := c.shutdown()

	// Every worker has exited, so the drain sees the final contents
	records, count := c.store.Drain()
	target := c.config.Target()
	report := &Report{
		Records:  records,
		Count:    count,
		Target:   target,
		Complete: count >= target,
		Reason:   reason,
		Elapsed:  c.clock.Since(c.startedAt),
	}

	if werr := report.Write(c.out); werr != nil {
		c.logger.Error("Failed to write report", slog.String("error", werr.Error()))
	}

	c.logger.Info("Collection finished",
		slog.Int("collected", report.Count),
		slog.Int("target", report.Target),
		slog.Bool("complete", report.Complete),
		slog.Duration("elapsed", report.Elapsed),
	)

	return report, err
}

// Run is Start followed by Wait
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

func (c *Coordinator) waitForTarget(ctx context.Context) StopReason {
	target := c.config.Target()

	ticker := c.clock.Ticker(c.config.Collector.GetPollIntervalDuration())
	defer ticker.Stop()

	var timeout <-chan time.Time
	if d := c.config.Collector.GetWaitTimeoutDuration(); d > 0 {
		timer := c.clock.Timer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		// Check the count before sleeping so a reached target returns at once
		count := c.store.Count()
		c.metrics.RecordPoll(count)
		if count >= target {
			return ReasonTargetReached
		}

		select {
		case <-ctx.Done():
			return ReasonCancelled
		case <-timeout:
			c.logger.Warn("Wait timeout elapsed before every message arrived",
				slog.Int("collected", count),
				slog.Int("target", target),
			)
			return ReasonTimeout
		case <-c.acceptor.Done():
			// The workers are joined already; the count is final
			if c.store.Count() >= target {
				return ReasonTargetReached
			}
			return ReasonAcceptorStopped
		case <-ticker.C:
		}
	}
}

// shutdown stops the acceptor, joins it and releases the listener and monitor
func (c *Coordinator) shutdown() error {
	// Stop the acceptor and join it with all of its workers
	c.acceptor.Stop()
	err := c.group.Wait()

	// Release the listening socket
	if cerr := c.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		c.logger.Debug("Error closing listener", slog.String("error", cerr.Error()))
	}

	// Stop HTTP monitor last so it can be queried during teardown
	if c.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if herr := c.http.Stop(ctx); herr != nil {
			c.logger.Error("Error stopping HTTP monitor", slog.String("error", herr.Error()))
		}
	}

	if err != nil {
		return errors.Wrap(err, "acceptor failed")
	}
	return nil
}
