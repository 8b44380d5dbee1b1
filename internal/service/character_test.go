package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"guess-who/internal/config"
	"guess-who/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCharacterService() (*CharacterService, *fakeCharacterStore) {
	store := newFakeCharacterStore()
	return NewCharacterService(store, &config.Config{OpTimeout: time.Second}, zerolog.Nop()), store
}

func TestCharacterCreateListDelete(t *testing.T) {
	svc, _ := newCharacterService()
	ctx := context.Background()

	c, err := svc.Create(ctx, "owner", "  Grandma  ", "portraits/grandma.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Grandma", c.Name)
	assert.Equal(t, "owner", c.OwnerID)
	assert.NotEmpty(t, c.ID)

	_, err = svc.Create(ctx, "owner", "Uncle Bob", "")
	require.NoError(t, err)

	chars, err := svc.List(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, chars, 2)
	assert.Equal(t, "Grandma", chars[0].Name)

	require.NoError(t, svc.Delete(ctx, "owner", c.ID))
	chars, err = svc.List(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.Equal(t, "Uncle Bob", chars[0].Name)

	assert.ErrorIs(t, svc.Delete(ctx, "owner", c.ID), domain.ErrUnknownCharacter)
}

func TestCharacterNameRequired(t *testing.T) {
	svc, _ := newCharacterService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "owner", "   ", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Create(ctx, "owner", strings.Repeat("x", 200), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Create(ctx, "", "Name", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCharacterConcurrentCreatesKeepAll(t *testing.T) {
	svc, _ := newCharacterService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, "owner", "Same", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chars, err := svc.List(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, chars, 20)
}

func TestCharacterStoreErrors(t *testing.T) {
	svc, store := newCharacterService()
	store.err = errors.New("corrupt")

	_, err := svc.List(context.Background(), "owner")
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	_, err = svc.Create(context.Background(), "owner", "Name", "")
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestCharacterDeleteBlockedWhileOnBoard(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()
	svc := NewCharacterService(h.chars, &config.Config{OpTimeout: time.Second}, zerolog.Nop())

	assert.ErrorIs(t, svc.Delete(ctx, "A", "c1"), domain.ErrInvalidState)
	chars, err := svc.List(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, chars, 3)

	require.NoError(t, h.sessions.FinishSession(ctx, s.ID, "A"))
	require.NoError(t, svc.Delete(ctx, "A", "c1"))
}

func TestBoardKeepsSlotForMissingCharacter(t *testing.T) {
	h := newHarness(t, 0)
	s := h.startedGame(t)
	ctx := context.Background()

	// storage lost c2 behind the service's back
	h.chars.mu.Lock()
	h.chars.chars["A"] = slices.DeleteFunc(h.chars.chars["A"], func(c domain.Character) bool { return c.ID == "c2" })
	h.chars.mu.Unlock()

	board, err := h.sessions.BoardCharacters(ctx, s.ID, "B")
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "c2", board[1].ID)
	assert.Empty(t, board[1].Name)
	assert.Equal(t, "Name c3", board[2].Name)
}
