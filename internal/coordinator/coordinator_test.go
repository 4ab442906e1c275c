package coordinator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/tcp-collector/internal/client"
	"github.com/skypro1111/tcp-collector/internal/config"
	"github.com/skypro1111/tcp-collector/internal/metrics"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConfig(capacity int, framing string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.MaxClients = capacity
	cfg.Server.AcceptPoll = 10
	cfg.Server.Framing = framing
	return cfg
}

type waitResult struct {
	report *Report
	err    error
}

func waitAsync(ctx context.Context, c *Coordinator) <-chan waitResult {
	done := make(chan waitResult, 1)
	go func() {
		report, err := c.Wait(ctx)
		done <- waitResult{report, err}
	}()
	return done
}

func receive(t *testing.T, done <-chan waitResult) waitResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(waitFor):
		t.Fatal("coordinator did not finish")
		return waitResult{}
	}
}

func TestCollectsEveryMessage(t *testing.T) {
	tests := []struct {
		name    string
		framing string
	}{
		{"default raw framing", config.FramingRaw},
		{"nul framing", config.FramingNUL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testCollectsEveryMessage(t, tt.framing)
		})
	}
}

func testCollectsEveryMessage(t *testing.T, framing string) {
	var out bytes.Buffer
	m := metrics.NewMetrics(nil)
	c := New(newTestConfig(3, framing), newTestLogger(), m, nil, &out)
	require.NoError(t, c.Start())

	done := waitAsync(context.Background(), c)

	var wg sync.WaitGroup
	for id := 1; id <= 3; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := client.Send(context.Background(), client.Config{
				Addr:     c.Addr().String(),
				ClientID: id,
				Delay:    10 * time.Millisecond,
			}, newTestLogger())
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	res := receive(t, done)
	require.NoError(t, res.err)

	report := res.report
	assert.Equal(t, ReasonTargetReached, report.Reason)
	assert.Equal(t, 15, report.Count)
	assert.Equal(t, 15, report.Target)
	assert.True(t, report.Complete)
	require.Len(t, report.Records, 15)

	seen := make(map[string]int)
	for _, rec := range report.Records {
		seen[rec.Payload]++
	}
	for id := 1; id <= 3; id++ {
		for _, msg := range client.DefaultMessages {
			assert.Equal(t, 1, seen[client.Format(id, msg)])
		}
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 17)
	assert.Equal(t, "Collected: 15", lines[15])
	assert.Equal(t, "All messages were collected!", lines[16])
	for _, line := range lines[:15] {
		assert.True(t, strings.HasPrefix(line, "Collected: [Client "), line)
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.CoordinatorPolls), 1.0)
	assert.Equal(t, 15.0, testutil.ToFloat64(m.StoredMessages))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))
}

// sendPartial connects one client, delivers msgs one by one and disconnects
func sendPartial(t *testing.T, c *Coordinator, msgs ...string) {
	t.Helper()

	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	for i, msg := range msgs {
		_, err := conn.Write([]byte(msg + "\x00"))
		require.NoError(t, err)
		want := i + 1
		require.Eventually(t, func() bool { return c.Store().Count() == want }, waitFor, tick)
	}
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return c.Acceptor().ActiveCount() == 0 }, waitFor, tick)
}

func TestWaitTimeoutReturnsIncompleteReport(t *testing.T) {
	cfg := newTestConfig(1, config.FramingRaw)
	cfg.Collector.WaitTimeout = 30

	mock := clock.NewMock()
	var out bytes.Buffer
	c := New(cfg, newTestLogger(), nil, mock, &out)
	require.NoError(t, c.Start())

	sendPartial(t, c, "[Client 1] Hello", "[Client 1] Apple")

	done := waitAsync(context.Background(), c)

	var res waitResult
	deadline := time.After(waitFor)
loop:
	for {
		select {
		case res = <-done:
			break loop
		case <-deadline:
			t.Fatal("timeout never fired")
		default:
			mock.Add(time.Second)
		}
	}

	require.NoError(t, res.err)
	assert.Equal(t, ReasonTimeout, res.report.Reason)
	assert.False(t, res.report.Complete)
	assert.Equal(t, 2, res.report.Count)
	assert.Equal(t, 5, res.report.Target)
	require.Len(t, res.report.Records, 2)
	assert.Equal(t, "[Client 1] Hello", res.report.Records[0].Payload)
	assert.Equal(t, "[Client 1] Apple", res.report.Records[1].Payload)
	assert.GreaterOrEqual(t, res.report.Elapsed, 30*time.Second)

	assert.Equal(t, "Collected: [Client 1] Hello\nCollected: [Client 1] Apple\nCollected: 2\n", out.String())
}

func TestCancelReturnsIncompleteReport(t *testing.T) {
	c := New(newTestConfig(1, config.FramingRaw), newTestLogger(), nil, nil, nil)
	require.NoError(t, c.Start())

	sendPartial(t, c, "Hello", "Apple")

	ctx, cancel := context.WithCancel(context.Background())
	done := waitAsync(ctx, c)
	cancel()

	res := receive(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, ReasonCancelled, res.report.Reason)
	assert.Equal(t, 2, res.report.Count)
	assert.False(t, res.report.Complete)
}

func TestShutdownWithIdleClient(t *testing.T) {
	c := New(newTestConfig(2, config.FramingRaw), newTestLogger(), nil, nil, nil)
	require.NoError(t, c.Start())

	idle, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	defer idle.Close()
	require.Eventually(t, func() bool { return c.Acceptor().ActiveCount() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := receive(t, waitAsync(ctx, c))
	require.NoError(t, res.err)
	assert.Equal(t, ReasonCancelled, res.report.Reason)
	assert.Zero(t, res.report.Count)
	assert.Empty(t, c.Acceptor().Slots())

	// The idle client sees its connection closed
	require.NoError(t, idle.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = idle.Read(make([]byte, 1))
	require.Error(t, err)

	// The listener is released
	_, err = net.DialTimeout("tcp", c.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestAcceptorStoppingEndsWait(t *testing.T) {
	c := New(newTestConfig(2, config.FramingRaw), newTestLogger(), nil, nil, nil)
	require.NoError(t, c.Start())

	done := waitAsync(context.Background(), c)
	c.Acceptor().Stop()

	res := receive(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, ReasonAcceptorStopped, res.report.Reason)
	assert.Zero(t, res.report.Count)
}

func TestStartFailsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := newTestConfig(1, config.FramingRaw)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	c := New(cfg, newTestLogger(), nil, nil, nil)
	err = c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen on")
	assert.Nil(t, c.Addr())

	_, err = c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := newTestConfig(0, config.FramingRaw)

	err := New(cfg, newTestLogger(), nil, nil, nil).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestHTTPMonitorLifecycle(t *testing.T) {
	cfg := newTestConfig(1, config.FramingRaw)
	cfg.HTTP.Enabled = true
	cfg.HTTP.Port = 0

	c := New(cfg, newTestLogger(), nil, nil, nil)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
}

func TestHTTPMonitorStartFailureLeavesRunUnstarted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := newTestConfig(1, config.FramingRaw)
	cfg.HTTP.Enabled = true
	cfg.HTTP.Port = busy.Addr().(*net.TCPAddr).Port

	c := New(cfg, newTestLogger(), nil, nil, nil)
	err = c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start HTTP monitor")

	assert.Nil(t, c.Acceptor())
	assert.Nil(t, c.Addr())

	_, err = c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestReportWrite(t *testing.T) {
	var out bytes.Buffer
	r := &Report{Count: 0, Target: 0, Complete: true}
	require.NoError(t, r.Write(&out))
	assert.Equal(t, "Collected: 0\nAll messages were collected!\n", out.String())
}
