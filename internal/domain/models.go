package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	MaxPlayers   = 2
	CodeLength   = 6
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusStarted  SessionStatus = "started"
	StatusFinished SessionStatus = "finished"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusStarted, StatusFinished:
		return true
	}
	return false
}

type Character struct {
	ID          string
	OwnerID     string
	Name        string
	PortraitRef string
	CreatedAt   time.Time
}

type Player struct {
	PlayerID    string
	TurnIndex   int
	DisplayName string
	JoinedAt    time.Time
}

type Session struct {
	ID                   string
	Code                 string
	CreatorID            string
	Status               SessionStatus
	Players              []Player
	SelectedCharacterIDs []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (s *Session) Player(playerID string) (Player, bool) {
	for _, p := range s.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return Player{}, false
}

// IsMember reports whether id is the creator or one of the players.
func (s *Session) IsMember(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.Player(id)
	return ok || s.CreatorID == id
}

func (s *Session) HasCharacter(characterID string) bool {
	return slices.Contains(s.SelectedCharacterIDs, characterID)
}

// CanStart reports why the session cannot move to started, or nil.
func (s *Session) CanStart() error {
	if s.Status != StatusWaiting {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, s.Status)
	}
	if len(s.Players) != MaxPlayers {
		return fmt.Errorf("%w: need %d players, have %d", ErrInvalidState, MaxPlayers, len(s.Players))
	}
	if len(s.SelectedCharacterIDs) == 0 {
		return fmt.Errorf("%w: no characters selected", ErrInvalidState)
	}
	return nil
}

// SessionPatch lists the fields a conditional update may change. Nil fields are left alone.
type SessionPatch struct {
	Status               *SessionStatus
	SelectedCharacterIDs []string
}

// SessionCondition must hold on the stored row for a patch to apply.
type SessionCondition struct {
	Statuses          []SessionStatus
	PlayerCount       int
	RequireCharacters bool
}

func (c SessionCondition) Holds(s *Session) bool {
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, s.Status) {
		return false
	}
	if c.PlayerCount > 0 && len(s.Players) != c.PlayerCount {
		return false
	}
	if c.RequireCharacters && len(s.SelectedCharacterIDs) == 0 {
		return false
	}
	return true
}

// NormalizeCode uppercases a user-typed code and checks it against the code alphabet.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: code must be %d characters", ErrValidation, CodeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", fmt.Errorf("%w: code contains %q", ErrValidation, r)
		}
	}
	return code, nil
}
