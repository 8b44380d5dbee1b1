package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"guess-who/internal/config"
	"guess-who/internal/constants"
	"guess-who/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// CharacterService manages a player's own character collection.
type CharacterService struct {
	store   CharacterStore
	timeout time.Duration
	newID   func() (string, error)
	logger  zerolog.Logger

	// collections are saved whole, so edits for one owner must not interleave
	mu sync.Mutex
}

func NewCharacterService(store CharacterStore, cfg *config.Config, logger zerolog.Logger) *CharacterService {
	return &CharacterService{
		store:   store,
		timeout: cfg.OpTimeout,
		newID:   func() (string, error) { return gonanoid.New() },
		logger:  logger,
	}
}

func (s *CharacterService) List(ctx context.Context, ownerID string) ([]domain.Character, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	chars, err := s.store.Load(ctx, ownerID)
	return chars, unavailable(err)
}

// Create adds a character with a non-empty name to the owner's collection.
func (s *CharacterService) Create(ctx context.Context, ownerID, name, portraitRef string) (*domain.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: please enter a character name", domain.ErrValidation)
	}
	if utf8.RuneCountInString(name) > constants.MaxCharacterNameLength {
		return nil, fmt.Errorf("%w: character name is too long", domain.ErrValidation)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate character id: %w", err)
	}
	c := domain.Character{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		PortraitRef: strings.TrimSpace(portraitRef),
		CreatedAt:   time.Now().UTC(),
	}

	err = s.modify(ctx, ownerID, func(chars []domain.Character) ([]domain.Character, error) {
		return append(chars, c), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("owner_id", ownerID).Str("character_id", id).Msg("character created")
	return &c, nil
}

// Delete removes a character unless it is on the board of an unfinished game.
func (s *CharacterService) Delete(ctx context.Context, ownerID, characterID string) error {
	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	inUse, err := s.store.InActiveSession(checkCtx, ownerID, characterID)
	cancel()
	if err != nil {
		return unavailable(err)
	}
	if inUse {
		return fmt.Errorf("%w: character %s is on the board of an unfinished game", domain.ErrInvalidState, characterID)
	}

	err = s.modify(ctx, ownerID, func(chars []domain.Character) ([]domain.Character, error) {
		i := slices.IndexFunc(chars, func(c domain.Character) bool { return c.ID == characterID })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCharacter, characterID)
		}
		return slices.Delete(chars, i, i+1), nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("owner_id", ownerID).Str("character_id", characterID).Msg("character deleted")
	return nil
}

func (s *CharacterService) modify(ctx context.Context, ownerID string, fn func([]domain.Character) ([]domain.Character, error)) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	chars, err := s.store.Load(ctx, ownerID)
	if err != nil {
		return unavailable(err)
	}
	chars, err = fn(chars)
	if err != nil {
		return err
	}
	return unavailable(s.store.Save(ctx, ownerID, chars))
}
