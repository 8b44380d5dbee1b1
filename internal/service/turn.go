package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guess-who/internal/config"
	"guess-who/internal/domain"
	"guess-who/internal/live"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TurnService coordinates play on a started session: board moves by the player
// whose turn it is, and handing the turn over.
type TurnService struct {
	sessions SessionRepository
	live     LiveChannel
	timeout  time.Duration
	moves    *moveCoalescer
	logger   zerolog.Logger
}

func NewTurnService(sessions SessionRepository, live LiveChannel, cfg *config.Config, logger zerolog.Logger) *TurnService {
	t := &TurnService{
		sessions: sessions,
		live:     live,
		timeout:  cfg.OpTimeout,
		logger:   logger,
	}
	if cfg.MoveDebounce > 0 {
		t.moves = newMoveCoalescer(cfg.MoveDebounce, t.writeMoves)
	}
	return t
}

// Subscribe calls onChange with the full live state after every change, starting
// with the current state if the session is already live.
func (t *TurnService) Subscribe(ctx context.Context, sessionID string, onChange func(*domain.LiveState)) (*live.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	sub, err := t.live.Subscribe(ctx, sessionID, onChange)
	if err != nil {
		return nil, unavailable(err)
	}
	return sub, nil
}

// Unsubscribe stops delivery. No callback runs after it returns.
func (t *TurnService) Unsubscribe(sub *live.Subscription) {
	t.live.Unsubscribe(sub)
}

func (t *TurnService) State(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	state, err := t.live.Get(ctx, sessionID)
	return state, unavailable(err)
}

// ApplyMove marks a character on the acting player's own board. It does not end the turn.
func (t *TurnService) ApplyMove(ctx context.Context, sessionID, playerID, characterID string, status domain.CharacterStatus) error {
	if characterID == "" {
		return fmt.Errorf("%w: character id is required", domain.ErrValidation)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}

	session, player, err := t.authorize(ctx, sessionID, playerID)
	if err != nil {
		return err
	}
	if !session.HasCharacter(characterID) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCharacter, characterID)
	}

	if t.moves == nil {
		err = t.writeMoves(moveKey{sessionID, playerID}, player.TurnIndex, map[string]domain.CharacterStatus{characterID: status})
		return unavailable(err)
	}

	result := t.moves.add(moveKey{sessionID, playerID}, player.TurnIndex, characterID, status)
	select {
	case err := <-result:
		return unavailable(err)
	case <-ctx.Done():
		return unavailable(ctx.Err())
	}
}

// EndTurn hands the turn to the next player. Any moves the player still has
// queued are written first.
func (t *TurnService) EndTurn(ctx context.Context, sessionID, playerID string) error {
	session, player, err := t.authorize(ctx, sessionID, playerID)
	if err != nil {
		return err
	}

	if t.moves != nil {
		if err := t.moves.flush(moveKey{sessionID, playerID}); err != nil {
			return unavailable(err)
		}
	}

	next := domain.NextTurn(player.TurnIndex, len(session.Players))
	advCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.live.AdvanceTurn(advCtx, sessionID, player.TurnIndex, next); err != nil {
		return unavailable(err)
	}

	t.logger.Info().
		Str("session_id", sessionID).
		Str("player_id", playerID).
		Int("turn", next).
		Msg("turn ended")
	return nil
}

// Close writes any queued moves. Moves arriving afterwards are rejected.
func (t *TurnService) Close() {
	if t.moves != nil {
		t.moves.close()
	}
}

// authorize checks that the session is started, playerID is in it, and it is
// currently that player's turn.
func (t *TurnService) authorize(ctx context.Context, sessionID, playerID string) (*domain.Session, domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	var session *domain.Session
	var state *domain.LiveState

	g.Go(func() error {
		var err error
		session, err = t.sessions.Get(gCtx, sessionID)
		return err
	})

	g.Go(func() error {
		var err error
		state, err = t.live.Get(gCtx, sessionID)
		if errors.Is(err, domain.ErrNotLive) {
			state = nil
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, domain.Player{}, unavailable(err)
	}

	if session.Status != domain.StatusStarted {
		return nil, domain.Player{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
	}
	player, ok := session.Player(playerID)
	if !ok {
		return nil, domain.Player{}, domain.ErrNotPlayer
	}
	if state == nil {
		return nil, domain.Player{}, domain.ErrNotLive
	}
	if player.TurnIndex != state.Turn {
		return nil, domain.Player{}, domain.ErrNotYourTurn
	}
	return session, player, nil
}

func (t *TurnService) writeMoves(key moveKey, turnIndex int, marks map[string]domain.CharacterStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.live.ApplyBoard(ctx, key.sessionID, key.playerID, turnIndex, marks)
	if err != nil {
		t.logger.Warn().Err(err).Str("session_id", key.sessionID).Str("player_id", key.playerID).Msg("failed to write moves")
		return err
	}
	t.logger.Debug().
		Str("session_id", key.sessionID).
		Str("player_id", key.playerID).
		Int("marks", len(marks)).
		Msg("moves written")
	return nil
}
