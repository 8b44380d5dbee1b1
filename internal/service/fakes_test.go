package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guess-who/internal/config"
	"guess-who/internal/domain"
	"guess-who/internal/live"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	// taken codes make Create fail with ErrCodeTaken
	taken map[string]bool
	delay time.Duration
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*domain.Session{}, taken: map[string]bool{}}
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	cp.Players = slices.Clone(s.Players)
	cp.SelectedCharacterIDs = slices.Clone(s.SelectedCharacterIDs)
	return &cp
}

func (r *fakeSessionRepo) wait(ctx context.Context) error {
	if r.delay == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(r.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[s.Code] {
		return domain.ErrCodeTaken
	}
	r.taken[s.Code] = true
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(s), nil
}

func (r *fakeSessionRepo) byCode(code string) *domain.Session {
	for _, s := range r.sessions {
		if s.Code == code {
			return s
		}
	}
	return nil
}

func (r *fakeSessionRepo) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byCode(code)
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(s), nil
}

func (r *fakeSessionRepo) AppendPlayer(ctx context.Context, code string, player domain.Player) (*domain.Session, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byCode(code)
	if s == nil {
		return nil, domain.ErrSessionNotFound
	}
	if _, ok := s.Player(player.PlayerID); ok {
		return nil, domain.ErrAlreadyJoined
	}
	if len(s.Players) >= domain.MaxPlayers {
		return nil, domain.ErrSessionFull
	}
	if s.Status != domain.StatusWaiting {
		return nil, domain.ErrInvalidState
	}
	player.TurnIndex = len(s.Players)
	s.Players = append(s.Players, player)
	return copySession(s), nil
}

func (r *fakeSessionRepo) UpdateFields(ctx context.Context, id string, patch domain.SessionPatch, cond domain.SessionCondition) (*domain.Session, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !cond.Holds(s) {
		return nil, domain.ErrInvalidState
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.SelectedCharacterIDs != nil {
		s.SelectedCharacterIDs = slices.Clone(patch.SelectedCharacterIDs)
	}
	return copySession(s), nil
}

type fakeCharacterStore struct {
	mu    sync.Mutex
	chars map[string][]domain.Character
	err   error
	// sessions answers InActiveSession when set
	sessions *fakeSessionRepo
}

func newFakeCharacterStore() *fakeCharacterStore {
	return &fakeCharacterStore{chars: map[string][]domain.Character{}}
}

func (f *fakeCharacterStore) InActiveSession(ctx context.Context, ownerID, characterID string) (bool, error) {
	f.mu.Lock()
	err, repo := f.err, f.sessions
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	if repo == nil {
		return false, nil
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, s := range repo.sessions {
		if s.CreatorID == ownerID && s.Status != domain.StatusFinished && s.HasCharacter(characterID) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCharacterStore) Load(ctx context.Context, ownerID string) ([]domain.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.chars[ownerID]), nil
}

func (f *fakeCharacterStore) Save(ctx context.Context, ownerID string, chars []domain.Character) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.chars[ownerID] = slices.Clone(chars)
	return nil
}

func (f *fakeCharacterStore) put(ownerID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.chars[ownerID] = append(f.chars[ownerID], domain.Character{ID: id, OwnerID: ownerID, Name: "Name " + id})
	}
}

// countingStore records live writes on top of a MemoryStore.
type countingStore struct {
	*live.MemoryStore
	boardWrites atomic.Int32
	turnWrites  atomic.Int32
	seeds       atomic.Int32
}

func (c *countingStore) CreateIfAbsent(ctx context.Context, st *domain.LiveState) (*domain.LiveState, bool, error) {
	c.seeds.Add(1)
	return c.MemoryStore.CreateIfAbsent(ctx, st)
}

func (c *countingStore) ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) (*domain.LiveState, error) {
	c.boardWrites.Add(1)
	return c.MemoryStore.ApplyBoard(ctx, sessionID, playerID, turnIndex, marks)
}

func (c *countingStore) AdvanceTurn(ctx context.Context, sessionID string, from, to int) (*domain.LiveState, error) {
	c.turnWrites.Add(1)
	return c.MemoryStore.AdvanceTurn(ctx, sessionID, from, to)
}

type harness struct {
	repo     *fakeSessionRepo
	chars    *fakeCharacterStore
	store    *countingStore
	hub      *live.Hub
	sessions *SessionService
	turns    *TurnService
	codes    []string
}

func newHarness(t *testing.T, debounce time.Duration) *harness {
	t.Helper()
	cfg := &config.Config{OpTimeout: time.Second, MoveDebounce: debounce}
	log := zerolog.Nop()

	h := &harness{
		repo:  newFakeSessionRepo(),
		chars: newFakeCharacterStore(),
		store: &countingStore{MemoryStore: live.NewMemoryStore()},
		hub:   live.NewHub(log),
	}
	h.chars.sessions = h.repo
	channel := live.NewChannel(h.store, h.hub, log)
	h.sessions = NewSessionService(h.repo, h.chars, channel, cfg, log)
	h.turns = NewTurnService(h.repo, channel, cfg, log)

	var n atomic.Int32
	h.sessions.newCode = func() (string, error) {
		i := int(n.Add(1)) - 1
		if i < len(h.codes) {
			return h.codes[i], nil
		}
		return fmt.Sprintf("ZZ%04d", i), nil
	}

	t.Cleanup(func() {
		h.turns.Close()
		h.hub.Close()
	})
	return h
}

// startedGame plays the lobby through to a started session with players A and B
// and characters c1..c3 owned by A.
func (h *harness) startedGame(t *testing.T) *domain.Session {
	t.Helper()
	ctx := context.Background()
	h.chars.put("A", "c1", "c2", "c3")

	s, err := h.sessions.CreateSession(ctx, "A")
	require.NoError(t, err)
	_, err = h.sessions.JoinSession(ctx, s.Code, "A", "")
	require.NoError(t, err)
	_, err = h.sessions.JoinSession(ctx, s.Code, "B", "")
	require.NoError(t, err)
	require.NoError(t, h.sessions.ChooseCharacters(ctx, s.ID, "A", []string{"c1", "c2", "c3"}))
	require.NoError(t, h.sessions.StartSession(ctx, s.ID, "A"))

	s, err = h.sessions.GetSession(ctx, s.ID)
	require.NoError(t, err)
	return s
}
