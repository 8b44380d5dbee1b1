package service

import (
	"errors"
	"sync"
	"time"

	"guess-who/internal/domain"
)

var errCoalescerClosed = errors.New("move writer is shutting down")

type moveKey struct {
	sessionID string
	playerID  string
}

type moveBatch struct {
	key       moveKey
	turnIndex int
	marks     map[string]domain.CharacterStatus
	waiters   []chan error
	timer     *time.Timer

	done chan struct{}
	err  error
}

type moveWriter func(key moveKey, turnIndex int, marks map[string]domain.CharacterStatus) error

// moveCoalescer merges the moves one player makes within a window into a single
// live write. Writes for the same player run one at a time, oldest batch first.
type moveCoalescer struct {
	window time.Duration
	write  moveWriter

	mu       sync.Mutex
	pending  map[moveKey]*moveBatch
	inflight map[moveKey]*moveBatch
	closed   bool
}

func newMoveCoalescer(window time.Duration, write moveWriter) *moveCoalescer {
	return &moveCoalescer{
		window:   window,
		write:    write,
		pending:  make(map[moveKey]*moveBatch),
		inflight: make(map[moveKey]*moveBatch),
	}
}

// add queues one mark. The returned channel yields the result of the write that carries it.
func (c *moveCoalescer) add(key moveKey, turnIndex int, characterID string, status domain.CharacterStatus) <-chan error {
	ch := make(chan error, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ch <- errCoalescerClosed
		return ch
	}

	b, ok := c.pending[key]
	if !ok {
		b = &moveBatch{
			key:       key,
			turnIndex: turnIndex,
			marks:     make(map[string]domain.CharacterStatus),
			done:      make(chan struct{}),
		}
		c.pending[key] = b
		b.timer = time.AfterFunc(c.window, func() { c.run(b) })
	}
	b.marks[characterID] = status
	b.waiters = append(b.waiters, ch)
	return ch
}

// run writes b if it is still pending. Callers that need the outcome wait on b.done.
func (c *moveCoalescer) run(b *moveBatch) {
	c.mu.Lock()
	if c.pending[b.key] != b {
		c.mu.Unlock()
		return
	}
	delete(c.pending, b.key)
	b.timer.Stop()
	prev := c.inflight[b.key]
	c.inflight[b.key] = b
	c.mu.Unlock()

	if prev != nil {
		<-prev.done
	}

	b.err = c.write(b.key, b.turnIndex, b.marks)
	for _, w := range b.waiters {
		w <- b.err
	}

	c.mu.Lock()
	if c.inflight[b.key] == b {
		delete(c.inflight, b.key)
	}
	c.mu.Unlock()
	close(b.done)
}

// flush writes the player's pending moves now and waits for every earlier write
// of theirs to land.
func (c *moveCoalescer) flush(key moveKey) error {
	c.mu.Lock()
	b, ok := c.pending[key]
	if !ok {
		b = c.inflight[key]
	}
	c.mu.Unlock()

	if b == nil {
		return nil
	}
	if ok {
		c.run(b)
	}
	<-b.done
	return b.err
}

// close writes everything still pending and rejects new moves.
func (c *moveCoalescer) close() {
	c.mu.Lock()
	c.closed = true
	batches := make([]*moveBatch, 0, len(c.pending)+len(c.inflight))
	for _, b := range c.pending {
		batches = append(batches, b)
	}
	for _, b := range c.inflight {
		batches = append(batches, b)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.run(b)
			<-b.done
		}()
	}
	wg.Wait()
}
