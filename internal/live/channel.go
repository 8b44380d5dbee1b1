package live

import (
	"context"
	"errors"
	"time"

	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

// Channel pairs a Store with a Hub: each committed write is published to the
// session's subscribers, and a new subscriber is sent the current state.
type Channel struct {
	store  Store
	hub    *Hub
	logger zerolog.Logger
}

func NewChannel(store Store, hub *Hub, logger zerolog.Logger) *Channel {
	return &Channel{store: store, hub: hub, logger: logger}
}

func (c *Channel) Get(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	return c.store.Get(ctx, sessionID)
}

// Seed writes state if the session has no live record yet. It reports whether it wrote.
func (c *Channel) Seed(ctx context.Context, state *domain.LiveState) (bool, error) {
	current, created, err := c.store.CreateIfAbsent(ctx, state)
	if err != nil {
		return false, err
	}
	c.hub.Publish(current)
	return created, nil
}

func (c *Channel) ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) error {
	state, err := c.store.ApplyBoard(ctx, sessionID, playerID, turnIndex, marks)
	if err != nil {
		return err
	}
	c.hub.Publish(state)
	return nil
}

func (c *Channel) AdvanceTurn(ctx context.Context, sessionID string, from, to int) error {
	state, err := c.store.AdvanceTurn(ctx, sessionID, from, to)
	if err != nil {
		return err
	}
	c.hub.Publish(state)
	return nil
}

// Subscribe registers fn and, when the session is already live, delivers its
// current state. A session that is not live yet gets its first state on seeding.
func (c *Channel) Subscribe(ctx context.Context, sessionID string, fn func(*domain.LiveState)) (*Subscription, error) {
	sub := c.hub.Subscribe(sessionID, fn)

	state, err := c.store.Get(ctx, sessionID)
	switch {
	case err == nil:
		sub.offer(state)
	case errors.Is(err, domain.ErrNotLive):
	default:
		c.hub.Unsubscribe(sub)
		return nil, err
	}
	return sub, nil
}

func (c *Channel) Unsubscribe(sub *Subscription) {
	c.hub.Unsubscribe(sub)
}

// Poll republishes the stored state of every subscribed session each interval.
// It picks up writes made by other processes sharing a remote store.
func (c *Channel) Poll(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range c.hub.Sessions() {
			getCtx, cancel := context.WithTimeout(ctx, timeout)
			state, err := c.store.Get(getCtx, id)
			cancel()
			if err != nil {
				if !errors.Is(err, domain.ErrNotLive) {
					c.logger.Warn().Err(err).Str("session_id", id).Msg("failed to poll live state")
				}
				continue
			}
			c.hub.Publish(state)
		}
	}
}
