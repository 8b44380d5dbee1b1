package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionFull        = errors.New("session full")
	ErrAlreadyJoined      = errors.New("already joined")
	ErrInvalidState       = errors.New("invalid session state")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrUnknownCharacter   = errors.New("unknown character")
	ErrValidation         = errors.New("validation failed")
)

var (
	ErrNotCreator = fmt.Errorf("%w: only the session creator can choose characters", ErrInvalidState)
	ErrNotPlayer  = fmt.Errorf("%w: caller is not a player in this session", ErrInvalidState)
	ErrNotLive    = fmt.Errorf("%w: live state has not been seeded", ErrInvalidState)

	// ErrCodeTaken is returned by storage when an active session already holds the code.
	ErrCodeTaken = errors.New("session code already in use")
)

var taxonomy = []struct {
	err     error
	code    string
	message string
}{
	{ErrSessionNotFound, "SESSION_NOT_FOUND", "Game not found. Check the code and try again."},
	{ErrSessionFull, "SESSION_FULL", "This game already has two players."},
	{ErrAlreadyJoined, "ALREADY_JOINED", "You have already joined this game."},
	{ErrNotYourTurn, "NOT_YOUR_TURN", "Wait for your turn."},
	{ErrUnknownCharacter, "UNKNOWN_CHARACTER", "That character is not part of this game."},
	{ErrValidation, "VALIDATION_ERROR", "Some of the information entered is not valid."},
	{ErrInvalidState, "INVALID_STATE", "That action is not possible right now."},
	{ErrBackendUnavailable, "BACKEND_UNAVAILABLE", "The game server could not be reached. Please try again."},
}

// Known reports whether err belongs to the error taxonomy.
func Known(err error) bool {
	if errors.Is(err, ErrCodeTaken) {
		return true
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return true
		}
	}
	return false
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	return "INTERNAL"
}

// Message returns text suitable for showing to a player.
func Message(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.message
		}
	}
	return "Something went wrong."
}
