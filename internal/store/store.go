package store

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultMaxMessageLen mirrors the fixed record size of the wire protocol:
// 127 bytes of content plus the terminator.
const DefaultMaxMessageLen = 128

// ErrDrained is returned by Append once the store has been drained
var ErrDrained = errors.New("store: append after drain")

// Record is a single received message. Records are never mutated after Append.
type Record struct {
	Seq        uint64    `json:"seq"`
	ClientID   int       `json:"client_id"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Stats represents store statistics for monitoring
type Stats struct {
	Count   int   `json:"count"`
	Bytes   int64 `json:"bytes"`
	Drained bool  `json:"drained"`
}

// Store is an insertion-ordered, append-only collection of records.
// The counter always equals the number of stored records.
type Store struct {
	maxLen int
	now    func() time.Time

	mu      sync.Mutex
	records []Record
	count   int
	bytes   int64
	drained bool
}

// New creates a store that keeps at most maxLen-1 bytes of every payload.
// A non-positive maxLen selects DefaultMaxMessageLen.
func New(maxLen int) *Store {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	return &Store{
		maxLen: maxLen,
		now:    time.Now,
	}
}

// WithClock replaces the receipt timestamp source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Append copies payload into a new record and links it into the store
func (s *Store) Append(clientID int, payload []byte) (Record, error) {
	if len(payload) > s.maxLen-1 {
		payload = payload[:s.maxLen-1]
	}
	// string conversion copies, so callers may reuse their buffer
	text := string(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained {
		return Record{}, ErrDrained
	}

	s.count++
	rec := Record{
		Seq:        uint64(s.count),
		ClientID:   clientID,
		Payload:    text,
		ReceivedAt: s.now(),
	}
	s.records = append(s.records, rec)
	s.bytes += int64(len(text))

	return rec, nil
}

// Count returns the number of records received so far
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Drain hands over every record in insertion order together with the total.
// It must only be called once all writers have stopped; later calls return nothing.
func (s *Store) Drain() ([]Record, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained {
		return nil, 0
	}

	records := s.records
	s.records = nil
	s.drained = true

	return records, len(records)
}

// GetStats returns a snapshot of the store statistics
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Count:   s.count,
		Bytes:   s.bytes,
		Drained: s.drained,
	}
}
