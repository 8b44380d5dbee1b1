// Package live holds the realtime game state and pushes every committed change
// to the subscribers of its session.
package live

import (
	"context"
	"sync"

	"guess-who/internal/domain"
)

// Store is the backing record for live state. Every method that writes returns the
// state as committed. Turn checks are conditional on the stored value:
// a mismatch yields domain.ErrNotYourTurn and nothing is written.
type Store interface {
	Get(ctx context.Context, sessionID string) (*domain.LiveState, error)
	CreateIfAbsent(ctx context.Context, state *domain.LiveState) (*domain.LiveState, bool, error)
	ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) (*domain.LiveState, error)
	AdvanceTurn(ctx context.Context, sessionID string, from, to int) (*domain.LiveState, error)
}

// MemoryStore keeps live state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*domain.LiveState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*domain.LiveState)}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, domain.ErrNotLive
	}
	return st.Clone(), nil
}

func (m *MemoryStore) CreateIfAbsent(ctx context.Context, state *domain.LiveState) (*domain.LiveState, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[state.SessionID]; ok {
		return existing.Clone(), false, nil
	}
	m.states[state.SessionID] = state.Clone()
	return state.Clone(), true, nil
}

func (m *MemoryStore) ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) (*domain.LiveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, domain.ErrNotLive
	}
	if st.Turn != turnIndex {
		return nil, domain.ErrNotYourTurn
	}
	if err := applyMarks(st, playerID, marks); err != nil {
		return nil, err
	}
	st.Version++
	return st.Clone(), nil
}

func (m *MemoryStore) AdvanceTurn(ctx context.Context, sessionID string, from, to int) (*domain.LiveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, domain.ErrNotLive
	}
	if st.Turn != from {
		return nil, domain.ErrNotYourTurn
	}
	st.Turn = to
	st.Version++
	return st.Clone(), nil
}

// applyMarks validates every mark against the player's board before changing any of them.
func applyMarks(st *domain.LiveState, playerID string, marks map[string]domain.CharacterStatus) error {
	board, ok := st.Boards[playerID]
	if !ok {
		return domain.ErrNotPlayer
	}
	for cid := range marks {
		if _, ok := board[cid]; !ok {
			return domain.ErrUnknownCharacter
		}
	}
	for cid, status := range marks {
		board[cid] = status
	}
	return nil
}
