package coordinator

import (
	"fmt"
	"io"
	"time"

	"github.com/skypro1111/tcp-collector/internal/store"
)

// StopReason says why the coordinator stopped waiting
type StopReason string

const (
	ReasonTargetReached   StopReason = "target_reached"
	ReasonTimeout         StopReason = "timeout"
	ReasonCancelled       StopReason = "cancelled"
	ReasonAcceptorStopped StopReason = "acceptor_stopped"
)

// Report is the outcome of a collection run
type Report struct {
	Records  []store.Record `json:"records"`
	Count    int            `json:"count"`
	Target   int            `json:"target"`
	Complete bool           `json:"complete"`
	Reason   StopReason     `json:"reason"`
	Elapsed  time.Duration  `json:"elapsed"`
}

// Write prints every collected message in arrival order, then the total
func (r *Report) Write(w io.Writer) error {
	for _, rec := range r.Records {
		if _, err := fmt.Fprintf(w, "Collected: %s\n", rec.Payload); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Collected: %d\n", r.Count); err != nil {
		return err
	}
	if r.Complete {
		if _, err := fmt.Fprintln(w, "All messages were collected!"); err != nil {
			return err
		}
	}
	return nil
}
