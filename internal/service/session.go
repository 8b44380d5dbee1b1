package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"guess-who/internal/config"
	"guess-who/internal/constants"
	"guess-who/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SessionService runs a game session from creation through start to finish.
type SessionService struct {
	sessions SessionRepository
	chars    CharacterStore
	live     LiveChannel
	timeout  time.Duration
	newCode  func() (string, error)
	newID    func() (string, error)
	logger   zerolog.Logger
}

func NewSessionService(sessions SessionRepository, chars CharacterStore, live LiveChannel, cfg *config.Config, logger zerolog.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		chars:    chars,
		live:     live,
		timeout:  cfg.OpTimeout,
		newCode:  generateCode,
		newID:    func() (string, error) { return gonanoid.New() },
		logger:   logger,
	}
}

func generateCode() (string, error) {
	return gonanoid.Generate(domain.CodeAlphabet, domain.CodeLength)
}

// CreateSession opens a waiting session with a fresh code and no players.
// The creator joins through JoinSession like anyone else.
func (s *SessionService) CreateSession(ctx context.Context, creatorID string) (*domain.Session, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("%w: creator id is required", domain.ErrValidation)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	for attempt := 1; attempt <= constants.CodeGenerationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session code: %w", err)
		}

		now := time.Now().UTC()
		session := &domain.Session{
			ID:        id,
			Code:      code,
			CreatorID: creatorID,
			Status:    domain.StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}

		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.sessions.Create(opCtx, session)
		cancel()
		if errors.Is(err, domain.ErrCodeTaken) {
			s.logger.Warn().Str("code", code).Int("attempt", attempt).Msg("session code in use, regenerating")
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("creator_id", creatorID).Msg("failed to create session")
			return nil, unavailable(err)
		}

		s.logger.Info().Str("session_id", session.ID).Str("code", code).Str("creator_id", creatorID).Msg("session created")
		return session, nil
	}

	return nil, fmt.Errorf("%w: no free session code after %d attempts", domain.ErrBackendUnavailable, constants.CodeGenerationAttempts)
}

// JoinSession appends playerID to the waiting session holding code.
func (s *SessionService) JoinSession(ctx context.Context, code, playerID, displayName string) (*domain.Session, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", domain.ErrValidation)
	}
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > constants.MaxDisplayNameLength {
		return nil, fmt.Errorf("%w: display name is too long", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.sessions.AppendPlayer(ctx, code, domain.Player{
		PlayerID:    playerID,
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("code", code).Str("player_id", playerID).Msg("join rejected")
		return nil, unavailable(err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("player_id", playerID).
		Int("players", len(session.Players)).
		Msg("player joined")
	return session, nil
}

// ChooseCharacters sets the board for a waiting session. Only the creator may
// call it, and every id must be one of the creator's stored characters.
func (s *SessionService) ChooseCharacters(ctx context.Context, sessionID, callerID string, characterIDs []string) error {
	ids, err := normalizeSelection(characterIDs)
	if err != nil {
		return err
	}

	session, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CreatorID != callerID {
		return domain.ErrNotCreator
	}
	if session.Status != domain.StatusWaiting {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	owned, err := s.chars.Load(loadCtx, session.CreatorID)
	cancel()
	if err != nil {
		return unavailable(err)
	}
	for _, id := range ids {
		if !slices.ContainsFunc(owned, func(c domain.Character) bool { return c.ID == id }) {
			return fmt.Errorf("%w: %s", domain.ErrUnknownCharacter, id)
		}
	}

	updCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.sessions.UpdateFields(updCtx, sessionID,
		domain.SessionPatch{SelectedCharacterIDs: ids},
		domain.SessionCondition{Statuses: []domain.SessionStatus{domain.StatusWaiting}},
	)
	if err != nil {
		return unavailable(err)
	}

	s.logger.Info().Str("session_id", sessionID).Int("characters", len(ids)).Msg("characters chosen")
	return nil
}

func normalizeSelection(characterIDs []string) ([]string, error) {
	if len(characterIDs) == 0 {
		return nil, fmt.Errorf("%w: choose at least one character", domain.ErrValidation)
	}
	ids := make([]string, 0, len(characterIDs))
	for _, id := range characterIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty character id", domain.ErrValidation)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) > constants.MaxSelectedCharacters {
		return nil, fmt.Errorf("%w: at most %d characters", domain.ErrValidation, constants.MaxSelectedCharacters)
	}
	return ids, nil
}

// StartSession moves a ready session to started and seeds its live state.
// Seeding only writes when no live state exists, so repeated or concurrent
// calls never reset a game in progress. Calling it on a started session
// retries just the seeding. Only the creator or a joined player may start.
func (s *SessionService) StartSession(ctx context.Context, sessionID, callerID string) error {
	session, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsMember(callerID) {
		return domain.ErrNotPlayer
	}

	switch session.Status {
	case domain.StatusWaiting:
		if err := session.CanStart(); err != nil {
			return err
		}
		started := domain.StatusStarted
		updCtx, cancel := context.WithTimeout(ctx, s.timeout)
		updated, err := s.sessions.UpdateFields(updCtx, sessionID,
			domain.SessionPatch{Status: &started},
			domain.SessionCondition{
				Statuses:          []domain.SessionStatus{domain.StatusWaiting},
				PlayerCount:       domain.MaxPlayers,
				RequireCharacters: true,
			},
		)
		cancel()
		switch {
		case err == nil:
			session = updated
		case errors.Is(err, domain.ErrInvalidState):
			// someone else may have started it between our read and write
			session, err = s.get(ctx, sessionID)
			if err != nil {
				return err
			}
			if session.Status != domain.StatusStarted {
				return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
			}
		default:
			return unavailable(err)
		}
	case domain.StatusStarted:
	default:
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, session.Status)
	}

	seedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	created, err := s.live.Seed(seedCtx, domain.NewLiveState(session))
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to seed live state")
		return unavailable(err)
	}

	s.logger.Info().Str("session_id", sessionID).Bool("seeded", created).Msg("session started")
	return nil
}

func (s *SessionService) GetSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	session, err := s.sessions.GetByCode(ctx, code)
	return session, unavailable(err)
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.get(ctx, sessionID)
}

// FinishSession ends a waiting or started session for good. The creator or
// a joined player may finish it.
func (s *SessionService) FinishSession(ctx context.Context, sessionID, callerID string) error {
	session, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsMember(callerID) {
		return domain.ErrNotPlayer
	}

	finished := domain.StatusFinished
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.sessions.UpdateFields(ctx, sessionID,
		domain.SessionPatch{Status: &finished},
		domain.SessionCondition{Statuses: []domain.SessionStatus{domain.StatusWaiting, domain.StatusStarted}},
	)
	if err != nil {
		return unavailable(err)
	}
	s.logger.Info().Str("session_id", sessionID).Msg("session finished")
	return nil
}

// BoardCharacters returns the creator's characters that make up the session's
// board, in selection order, so both devices can render them.
func (s *SessionService) BoardCharacters(ctx context.Context, sessionID, callerID string) ([]domain.Character, error) {
	session, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsMember(callerID) {
		return nil, domain.ErrNotPlayer
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	owned, err := s.chars.Load(ctx, session.CreatorID)
	if err != nil {
		return nil, unavailable(err)
	}

	board := make([]domain.Character, 0, len(session.SelectedCharacterIDs))
	for _, id := range session.SelectedCharacterIDs {
		i := slices.IndexFunc(owned, func(c domain.Character) bool { return c.ID == id })
		if i < 0 {
			// keep the slot so the board lines up with the live state
			s.logger.Warn().Str("session_id", sessionID).Str("character_id", id).Msg("selected character no longer stored")
			board = append(board, domain.Character{ID: id, OwnerID: session.CreatorID})
			continue
		}
		board = append(board, owned[i])
	}
	return board, nil
}

// Snapshot reads the session and its live state together. The live state is nil
// until the session has been started.
func (s *SessionService) Snapshot(ctx context.Context, sessionID string) (*domain.Session, *domain.LiveState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	var session *domain.Session
	var state *domain.LiveState

	g.Go(func() error {
		var err error
		session, err = s.sessions.Get(gCtx, sessionID)
		return err
	})

	g.Go(func() error {
		var err error
		state, err = s.live.Get(gCtx, sessionID)
		if errors.Is(err, domain.ErrNotLive) {
			state = nil
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, unavailable(err)
	}
	return session, state, nil
}

func (s *SessionService) get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, unavailable(err)
	}
	return session, nil
}
