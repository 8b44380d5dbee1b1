package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guess-who/internal/api"
	"guess-who/internal/constants"
	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

var errContention = errors.New("live state changed concurrently too many times")

// FirebaseStore keeps live state in the Firebase Realtime Database. Each write
// reads the document with its ETag and writes it back conditioned on that ETag,
// rereading when another writer got there first.
type FirebaseStore struct {
	client   *api.FirebaseClient
	attempts int
	logger   zerolog.Logger
}

func NewFirebaseStore(client *api.FirebaseClient, logger zerolog.Logger) *FirebaseStore {
	return &FirebaseStore{client: client, attempts: constants.ETagAttempts, logger: logger}
}

func (f *FirebaseStore) Get(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	doc, _, err := f.client.GetLiveState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotLive
	}
	return fromDocument(sessionID, doc)
}

func (f *FirebaseStore) CreateIfAbsent(ctx context.Context, state *domain.LiveState) (*domain.LiveState, bool, error) {
	var created bool
	out, err := f.update(ctx, state.SessionID, func(current *domain.LiveState) (*domain.LiveState, error) {
		if current != nil {
			created = false
			return nil, nil
		}
		created = true
		return state.Clone(), nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (f *FirebaseStore) ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) (*domain.LiveState, error) {
	return f.update(ctx, sessionID, func(current *domain.LiveState) (*domain.LiveState, error) {
		if current == nil {
			return nil, domain.ErrNotLive
		}
		if current.Turn != turnIndex {
			return nil, domain.ErrNotYourTurn
		}
		if err := applyMarks(current, playerID, marks); err != nil {
			return nil, err
		}
		current.Version++
		return current, nil
	})
}

func (f *FirebaseStore) AdvanceTurn(ctx context.Context, sessionID string, from, to int) (*domain.LiveState, error) {
	return f.update(ctx, sessionID, func(current *domain.LiveState) (*domain.LiveState, error) {
		if current == nil {
			return nil, domain.ErrNotLive
		}
		if current.Turn != from {
			return nil, domain.ErrNotYourTurn
		}
		current.Turn = to
		current.Version++
		return current, nil
	})
}

// update runs mutate against the current document and writes its result back.
// A nil result with a nil error means "leave it", and the current state is returned.
func (f *FirebaseStore) update(ctx context.Context, sessionID string, mutate func(*domain.LiveState) (*domain.LiveState, error)) (*domain.LiveState, error) {
	for attempt := 0; attempt < f.attempts; attempt++ {
		doc, etag, err := f.client.GetLiveState(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if etag == "" {
			etag = api.NullETag
		}

		var current *domain.LiveState
		if doc != nil {
			current, err = fromDocument(sessionID, doc)
			if err != nil {
				return nil, err
			}
		}

		next, err := mutate(current.Clone())
		if err != nil {
			return nil, err
		}
		if next == nil {
			return current, nil
		}

		_, err = f.client.PutLiveState(ctx, sessionID, etag, toDocument(next))
		if errors.Is(err, api.ErrPreconditionFailed) {
			f.logger.Debug().Str("session_id", sessionID).Int("attempt", attempt+1).Msg("etag mismatch, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("%w: session %s", errContention, sessionID)
}

func toDocument(st *domain.LiveState) *api.LiveDocument {
	doc := &api.LiveDocument{
		Turn:      st.Turn,
		Version:   st.Version,
		Boards:    make(map[string]map[string]string, len(st.Boards)),
		UpdatedAt: time.Now().UnixMilli(),
	}
	for pid, board := range st.Boards {
		cells := make(map[string]string, len(board))
		for cid, status := range board {
			cells[cid] = string(status)
		}
		doc.Boards[pid] = cells
	}
	return doc
}

func fromDocument(sessionID string, doc *api.LiveDocument) (*domain.LiveState, error) {
	st := &domain.LiveState{
		SessionID: sessionID,
		Turn:      doc.Turn,
		Version:   doc.Version,
		Boards:    make(map[string]domain.Board, len(doc.Boards)),
	}
	for pid, cells := range doc.Boards {
		board := make(domain.Board, len(cells))
		for cid, status := range cells {
			board[cid] = domain.CharacterStatus(status)
		}
		st.Boards[pid] = board
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}
