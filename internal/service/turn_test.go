package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"guess-who/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameScenario(t *testing.T) {
	h := newHarness(t, 0)
	h.codes = []string{"AB12CD"}
	ctx := context.Background()
	h.chars.put("A", "c1", "c2", "c3")

	s, err := h.sessions.CreateSession(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", s.Code)
	assert.Equal(t, domain.StatusWaiting, s.Status)

	s, err = h.sessions.JoinSession(ctx, "AB12CD", "A", "")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Players[0].TurnIndex)

	s, err = h.sessions.JoinSession(ctx, "AB12CD", "B", "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Players[1].TurnIndex)

	require.NoError(t, h.sessions.ChooseCharacters(ctx, s.ID, "A", []string{"c1", "c2", "c3"}))
	require.NoError(t, h.sessions.StartSession(ctx, s.ID, "A"))

	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	full := domain.Board{"c1": domain.InPlay, "c2": domain.InPlay, "c3": domain.InPlay}
	assert.Equal(t, 0, st.Turn)
	assert.Equal(t, map[string]domain.Board{"A": full, "B": full}, st.Boards)

	require.NoError(t, h.turns.ApplyMove(ctx, s.ID, "A", "c2", domain.Eliminated))
	require.NoError(t, h.turns.EndTurn(ctx, s.ID, "A"))

	st, err = h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, domain.Eliminated, st.Boards["A"]["c2"])
	assert.Equal(t, domain.InPlay, st.Boards["B"]["c2"])

	require.NoError(t, h.turns.EndTurn(ctx, s.ID, "B"))
	st, err = h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Turn)
}

func TestOutOfTurnCausesNoWrite(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	boards, turns := h.store.boardWrites.Load(), h.store.turnWrites.Load()

	assert.ErrorIs(t, h.turns.ApplyMove(ctx, s.ID, "B", "c1", domain.Eliminated), domain.ErrNotYourTurn)
	assert.ErrorIs(t, h.turns.EndTurn(ctx, s.ID, "B"), domain.ErrNotYourTurn)

	assert.Equal(t, boards, h.store.boardWrites.Load())
	assert.Equal(t, turns, h.store.turnWrites.Load())

	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Turn)
	assert.Equal(t, domain.InPlay, st.Boards["B"]["c1"])
}

func TestApplyMoveValidation(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.turns.ApplyMove(ctx, s.ID, "A", "c9", domain.Eliminated), domain.ErrUnknownCharacter)
	assert.ErrorIs(t, h.turns.ApplyMove(ctx, s.ID, "A", "c1", "gone"), domain.ErrValidation)
	assert.ErrorIs(t, h.turns.ApplyMove(ctx, s.ID, "A", "", domain.Eliminated), domain.ErrValidation)
	assert.ErrorIs(t, h.turns.ApplyMove(ctx, s.ID, "stranger", "c1", domain.Eliminated), domain.ErrInvalidState)
	assert.ErrorIs(t, h.turns.ApplyMove(ctx, "missing", "A", "c1", domain.Eliminated), domain.ErrSessionNotFound)

	waiting, err := h.sessions.CreateSession(ctx, "A")
	require.NoError(t, err)
	assert.ErrorIs(t, h.turns.ApplyMove(ctx, waiting.ID, "A", "c1", domain.Eliminated), domain.ErrInvalidState)

	// marking back in play is allowed
	require.NoError(t, h.turns.ApplyMove(ctx, s.ID, "A", "c1", domain.Eliminated))
	require.NoError(t, h.turns.ApplyMove(ctx, s.ID, "A", "c1", domain.InPlay))
	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InPlay, st.Boards["A"]["c1"])
}

func TestTurnsAlternate(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	players := []string{"A", "B"}
	for i := range 6 {
		mover := players[i%2]
		other := players[(i+1)%2]
		assert.ErrorIs(t, h.turns.EndTurn(ctx, s.ID, other), domain.ErrNotYourTurn)
		require.NoError(t, h.turns.EndTurn(ctx, s.ID, mover))

		st, err := h.turns.State(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, (i+1)%2, st.Turn)
	}
}

func TestConcurrentEndTurnFlipsOnce(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.turns.EndTurn(ctx, s.ID, "A")
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrNotYourTurn)
		}
	}
	assert.Equal(t, 1, ok)

	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Turn)
}

func TestSubscribeDeliversFullStates(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	got := make(chan *domain.LiveState, 16)
	sub, err := h.turns.Subscribe(ctx, s.ID, func(st *domain.LiveState) { got <- st })
	require.NoError(t, err)

	first := recvState(t, got)
	assert.Equal(t, 0, first.Turn)
	assert.Len(t, first.Boards, 2)

	require.NoError(t, h.turns.ApplyMove(ctx, s.ID, "A", "c3", domain.Eliminated))
	st := recvState(t, got)
	assert.Equal(t, domain.Eliminated, st.Boards["A"]["c3"])
	assert.Len(t, st.Boards["B"], 3)

	require.NoError(t, h.turns.EndTurn(ctx, s.ID, "A"))
	assert.Equal(t, 1, recvState(t, got).Turn)

	h.turns.Unsubscribe(sub)
	require.NoError(t, h.turns.EndTurn(ctx, s.ID, "B"))
	select {
	case st := <-got:
		t.Fatalf("callback after unsubscribe: version %d", st.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMovesWithinWindowAreCoalesced(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	s := h.startedGame(t)
	ctx := context.Background()
	before := h.store.boardWrites.Load()

	var wg sync.WaitGroup
	for _, cid := range []string{"c1", "c2", "c3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.turns.ApplyMove(ctx, s.ID, "A", cid, domain.Eliminated))
		}()
	}
	wg.Wait()

	assert.Equal(t, before+1, h.store.boardWrites.Load())
	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Remaining("A"))
	assert.Equal(t, 3, st.Remaining("B"))
}

func TestEndTurnFlushesPendingMoves(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := h.startedGame(t)
	ctx := context.Background()

	moved := make(chan error, 1)
	go func() {
		moved <- h.turns.ApplyMove(ctx, s.ID, "A", "c2", domain.Eliminated)
	}()

	// wait until the move is queued behind the long window
	require.Eventually(t, func() bool {
		h.turns.moves.mu.Lock()
		defer h.turns.moves.mu.Unlock()
		return len(h.turns.moves.pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.turns.EndTurn(ctx, s.ID, "A"))
	require.NoError(t, <-moved)

	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, domain.Eliminated, st.Boards["A"]["c2"])
}

func TestCloseFlushesPendingMoves(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := h.startedGame(t)
	ctx := context.Background()

	moved := make(chan error, 1)
	go func() {
		moved <- h.turns.ApplyMove(ctx, s.ID, "A", "c1", domain.Eliminated)
	}()
	require.Eventually(t, func() bool {
		h.turns.moves.mu.Lock()
		defer h.turns.moves.mu.Unlock()
		return len(h.turns.moves.pending) == 1
	}, time.Second, 5*time.Millisecond)

	h.turns.Close()
	require.NoError(t, <-moved)

	st, err := h.turns.State(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Eliminated, st.Boards["A"]["c1"])

	err = h.turns.ApplyMove(ctx, s.ID, "A", "c2", domain.Eliminated)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func recvState(t *testing.T, ch <-chan *domain.LiveState) *domain.LiveState {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live state")
		return nil
	}
}
