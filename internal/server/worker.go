package server

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/skypro1111/tcp-collector/internal/config"
)

// maxFramedMessage bounds a single NUL-delimited message before it is rejected
const maxFramedMessage = 64 * 1024

// serve is the connection worker: it receives until the peer disconnects,
// a receive fails, or the acceptor clears the slot's run flag.
func (a *Acceptor) serve(slot *Slot) {
	defer close(slot.done)
	defer a.release(slot)

	a.logger.Debug("Connection worker started",
		slog.Int("client_id", slot.ClientID),
		slog.String("framing", a.config.Framing),
	)

	// Select the receive loop for the configured framing
	switch a.config.Framing {
	case config.FramingNUL:
		a.receiveFramed(slot)
	default:
		a.receiveRaw(slot)
	}

	a.logger.Debug("Connection worker stopped",
		slog.Int("client_id", slot.ClientID),
		slog.Uint64("messages_received", slot.Received()),
	)
}

// receiveRaw treats every successful read as exactly one message.
// Coalesced or split writes are not reassembled.
func (a *Acceptor) receiveRaw(slot *Slot) {
	buffer := make([]byte, a.config.BufferSize-1)

	for slot.run.Load() {
		// One read is one message
		n, err := slot.conn.Read(buffer)
		if n > 0 {
			a.collect(slot, terminate(buffer[:n]))
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			a.logger.Info("Client disconnected gracefully.", slog.Int("client_id", slot.ClientID))
			return
		}
		// Would-block only happens if someone set a read deadline; retry
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		a.receiveFailed(slot, err)
		return
	}
}

// receiveFramed splits the stream on NUL bytes so that coalesced and split
// writes still yield one record per message.
func (a *Acceptor) receiveFramed(slot *Slot) {
	// The scanner gives up on the first read error, so deadline expiry is retried underneath it
	scanner := bufio.NewScanner(&retryReader{r: slot.conn, run: &slot.run})
	scanner.Buffer(make([]byte, a.config.BufferSize), maxFramedMessage)
	scanner.Split(scanNUL)

	for scanner.Scan() {
		// A message completed after the stop signal is not stored
		if !slot.run.Load() {
			return
		}
		a.collect(slot, scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		a.receiveFailed(slot, err)
		return
	}
	a.logger.Info("Client disconnected gracefully.", slog.Int("client_id", slot.ClientID))
}

// receiveFailed logs a terminal receive error unless the acceptor closed the
// connection on purpose
func (a *Acceptor) receiveFailed(slot *Slot, err error) {
	if !slot.run.Load() {
		a.logger.Debug("Connection closed by acceptor", slog.Int("client_id", slot.ClientID))
		return
	}
	a.metrics.RecordReceiveError()
	a.logger.Error("Receive failed",
		slog.Int("client_id", slot.ClientID),
		slog.String("remote_addr", slot.RemoteAddr),
		slog.String("error", err.Error()),
	)
}

// collect stores one message; a refused record is dropped and the worker carries on
func (a *Acceptor) collect(slot *Slot, payload []byte) {
	rec, err := a.store.Append(slot.ClientID, payload)
	if err != nil {
		a.metrics.RecordMessageDropped()
		a.logger.Warn("Dropping message",
			slog.Int("client_id", slot.ClientID),
			slog.Int("size", len(payload)),
			slog.String("error", err.Error()),
		)
		return
	}

	// Update per-slot and global counters
	slot.received.Add(1)
	a.metrics.RecordMessage(len(rec.Payload))
	a.logger.Info("Collected",
		slog.Int("client_id", slot.ClientID),
		slog.Uint64("seq", rec.Seq),
		slog.String("message", rec.Payload),
	)
}

// release marks the slot inactive and closes its connection
func (a *Acceptor) release(slot *Slot) {
	slot.active.Store(false)
	slot.run.Store(false)
	if err := slot.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		a.logger.Debug("Error closing client connection",
			slog.Int("client_id", slot.ClientID),
			slog.String("error", err.Error()),
		)
	}
	a.metrics.RecordConnectionClosed()
}

// retryReader retries reads that fail with an expired deadline for as long as
// run is set
type retryReader struct {
	r   io.Reader
	run *atomic.Bool
}

func (rr *retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if !errors.Is(err, os.ErrDeadlineExceeded) || !rr.run.Load() {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// terminate cuts a received chunk at its first NUL, the way the sender
// terminates every message
func terminate(chunk []byte) []byte {
	if i := bytes.IndexByte(chunk, 0); i >= 0 {
		return chunk[:i]
	}
	return chunk
}

// scanNUL is a bufio.SplitFunc yielding NUL-terminated messages. A trailing
// message without a terminator is delivered at EOF.
func scanNUL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
