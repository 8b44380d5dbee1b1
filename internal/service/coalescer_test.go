package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"guess-who/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedWrite struct {
	key   moveKey
	marks map[string]domain.CharacterStatus
}

type writeRecorder struct {
	mu     sync.Mutex
	writes []recordedWrite
	err    error
	block  chan struct{}
}

func (w *writeRecorder) write(key moveKey, _ int, marks map[string]domain.CharacterStatus) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedWrite{key: key, marks: marks})
	return w.err
}

func (w *writeRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func TestCoalescerMergesPerPlayer(t *testing.T) {
	rec := &writeRecorder{}
	c := newMoveCoalescer(30*time.Millisecond, rec.write)

	a := moveKey{"s1", "A"}
	b := moveKey{"s1", "B"}
	r1 := c.add(a, 0, "c1", domain.Eliminated)
	r2 := c.add(a, 0, "c2", domain.Eliminated)
	r3 := c.add(a, 0, "c1", domain.InPlay)
	r4 := c.add(b, 1, "c1", domain.Eliminated)

	for _, r := range []<-chan error{r1, r2, r3, r4} {
		select {
		case err := <-r:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("move result never arrived")
		}
	}

	require.Equal(t, 2, rec.count())
	for _, w := range rec.writes {
		if w.key == a {
			assert.Equal(t, map[string]domain.CharacterStatus{"c1": domain.InPlay, "c2": domain.Eliminated}, w.marks)
		} else {
			assert.Equal(t, map[string]domain.CharacterStatus{"c1": domain.Eliminated}, w.marks)
		}
	}
}

func TestCoalescerReportsWriteError(t *testing.T) {
	boom := errors.New("boom")
	rec := &writeRecorder{err: boom}
	c := newMoveCoalescer(time.Hour, rec.write)

	key := moveKey{"s1", "A"}
	r := c.add(key, 0, "c1", domain.Eliminated)
	assert.ErrorIs(t, c.flush(key), boom)
	assert.ErrorIs(t, <-r, boom)

	assert.NoError(t, c.flush(key))
}

func TestCoalescerFlushWaitsForInflight(t *testing.T) {
	rec := &writeRecorder{block: make(chan struct{})}
	c := newMoveCoalescer(time.Millisecond, rec.write)

	key := moveKey{"s1", "A"}
	r := c.add(key, 0, "c1", domain.Eliminated)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inflight[key] != nil
	}, time.Second, time.Millisecond)

	flushed := make(chan error, 1)
	go func() { flushed <- c.flush(key) }()

	select {
	case <-flushed:
		t.Fatal("flush returned before the in-flight write finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(rec.block)
	require.NoError(t, <-flushed)
	require.NoError(t, <-r)
	assert.Equal(t, 1, rec.count())
}
