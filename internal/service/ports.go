package service

import (
	"context"
	"errors"
	"fmt"

	"guess-who/internal/domain"
	"guess-who/internal/live"
)

// SessionRepository is the durable store of session documents.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	GetByCode(ctx context.Context, code string) (*domain.Session, error)
	AppendPlayer(ctx context.Context, code string, player domain.Player) (*domain.Session, error)
	UpdateFields(ctx context.Context, id string, patch domain.SessionPatch, cond domain.SessionCondition) (*domain.Session, error)
}

// CharacterStore loads and saves an owner's whole character collection.
type CharacterStore interface {
	Load(ctx context.Context, ownerID string) ([]domain.Character, error)
	Save(ctx context.Context, ownerID string, chars []domain.Character) error
	// InActiveSession reports whether an unfinished session created by ownerID
	// has the character selected.
	InActiveSession(ctx context.Context, ownerID, characterID string) (bool, error)
}

// LiveChannel is the realtime record plus its push subscriptions.
type LiveChannel interface {
	Get(ctx context.Context, sessionID string) (*domain.LiveState, error)
	Seed(ctx context.Context, state *domain.LiveState) (bool, error)
	ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) error
	AdvanceTurn(ctx context.Context, sessionID string, from, to int) error
	Subscribe(ctx context.Context, sessionID string, fn func(*domain.LiveState)) (*live.Subscription, error)
	Unsubscribe(sub *live.Subscription)
}

// unavailable leaves taxonomy errors as they are and wraps everything else,
// timeouts included, as domain.ErrBackendUnavailable.
func unavailable(err error) error {
	if err == nil || domain.Known(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: request canceled", domain.ErrBackendUnavailable)
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}
