package store

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := New(0)
	require.NotNil(t, s)

	assert.Equal(t, DefaultMaxMessageLen, s.maxLen)
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, Stats{}, s.GetStats())
}

func TestAppendAndCount(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(128).WithClock(func() time.Time { return fixed })

	for i, msg := range []string{"Hello", "Apple", "Car"} {
		rec, err := s.Append(7, []byte(msg))
		require.NoError(t, err)

		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.Equal(t, 7, rec.ClientID)
		assert.Equal(t, msg, rec.Payload)
		assert.Equal(t, fixed, rec.ReceivedAt)
		assert.Equal(t, i+1, s.Count())
	}

	stats := s.GetStats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, int64(len("HelloAppleCar")), stats.Bytes)
	assert.False(t, stats.Drained)
}

func TestAppendBoundsPayload(t *testing.T) {
	s := New(8)

	rec, err := s.Append(1, []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "0123456", rec.Payload)

	long := []byte(strings.Repeat("x", 300))
	rec, err = New(DefaultMaxMessageLen).Append(1, long)
	require.NoError(t, err)
	assert.Len(t, rec.Payload, DefaultMaxMessageLen-1)
}

func TestAppendCopiesBuffer(t *testing.T) {
	s := New(0)
	buf := []byte("Green")

	_, err := s.Append(1, buf)
	require.NoError(t, err)

	copy(buf, "XXXXX")

	records, n := s.Drain()
	require.Equal(t, 1, n)
	assert.Equal(t, "Green", records[0].Payload)
}

func TestDrain(t *testing.T) {
	s := New(0)
	for i := 0; i < 5; i++ {
		_, err := s.Append(i%2, []byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	records, n := s.Drain()
	require.Equal(t, 5, n)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), rec.Payload)
		assert.Equal(t, uint64(i+1), rec.Seq)
	}

	assert.True(t, s.GetStats().Drained)

	// Second drain is empty and the store refuses new records
	again, n := s.Drain()
	assert.Nil(t, again)
	assert.Zero(t, n)

	_, err := s.Append(1, []byte("late"))
	assert.ErrorIs(t, err, ErrDrained)
	assert.Equal(t, 5, s.Count())
}

func TestDrainEmpty(t *testing.T) {
	records, n := New(0).Drain()
	assert.Empty(t, records)
	assert.Zero(t, n)
}

func TestConcurrentAppend(t *testing.T) {
	const writers = 8
	const perWriter = 200

	s := New(0)
	var wg sync.WaitGroup

	// A concurrent reader must never see the count go backwards
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		last := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			c := s.Count()
			if c < last {
				t.Errorf("count went backwards: %d -> %d", last, c)
				return
			}
			last = c
		}
	}()

	for w := 1; w <= writers; w++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(clientID, []byte(fmt.Sprintf("[Client %d] %d", clientID, i))); err != nil {
					t.Errorf("append failed: %v", err)
					return
				}
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	<-readerDone

	require.Equal(t, writers*perWriter, s.Count())

	records, n := s.Drain()
	require.Equal(t, writers*perWriter, n)

	// Per-client order is preserved even though clients interleave
	next := make(map[int]int)
	for _, rec := range records {
		want := fmt.Sprintf("[Client %d] %d", rec.ClientID, next[rec.ClientID])
		assert.Equal(t, want, rec.Payload)
		next[rec.ClientID]++
	}
	for w := 1; w <= writers; w++ {
		assert.Equal(t, perWriter, next[w])
	}
}
