package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DefaultMessages are sent by every client unless overridden
var DefaultMessages = []string{"Hello", "Apple", "Car", "Green", "Dog"}

// maxMessageLen matches the collector's record size, terminator included
const maxMessageLen = 128

// Config describes one client run
type Config struct {
	Addr        string
	ClientID    int
	Messages    []string
	Delay       time.Duration // pause after each send
	DialTimeout time.Duration
}

// Format renders a message the way it appears on the wire, without the terminator
func Format(clientID int, msg string) string {
	text := fmt.Sprintf("[Client %d] %s", clientID, msg)
	if len(text) > maxMessageLen-1 {
		text = text[:maxMessageLen-1]
	}
	return text
}

// Send connects, writes every message followed by a NUL byte, and closes the
// connection. It returns the number of messages written.
func Send(ctx context.Context, cfg Config, logger *slog.Logger) (int, error) {
	messages := cfg.Messages
	if messages == nil {
		messages = DefaultMessages
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return 0, errors.Wrapf(err, "client %d: connection failed", cfg.ClientID)
	}
	defer conn.Close()

	sent := 0
	for _, msg := range messages {
		frame := append([]byte(Format(cfg.ClientID, msg)), 0)
		if _, err := conn.Write(frame); err != nil {
			return sent, errors.Wrapf(err, "client %d: send failed", cfg.ClientID)
		}
		sent++
		logger.Debug("Sent", slog.Int("client_id", cfg.ClientID), slog.String("message", msg))

		if cfg.Delay > 0 {
			timer := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return sent, nil
}
