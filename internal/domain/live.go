package domain

import (
	"fmt"
	"maps"
)

type CharacterStatus string

const (
	InPlay     CharacterStatus = "inPlay"
	Eliminated CharacterStatus = "eliminated"
)

func (c CharacterStatus) Valid() bool {
	return c == InPlay || c == Eliminated
}

// Board maps character id to its status on one player's board.
type Board map[string]CharacterStatus

// LiveState is the realtime game record. Version increases by one on every write.
type LiveState struct {
	SessionID string
	Turn      int
	Version   int64
	Boards    map[string]Board
}

// NewLiveState seeds a board per player with every selected character in play.
func NewLiveState(s *Session) *LiveState {
	boards := make(map[string]Board, len(s.Players))
	for _, p := range s.Players {
		b := make(Board, len(s.SelectedCharacterIDs))
		for _, id := range s.SelectedCharacterIDs {
			b[id] = InPlay
		}
		boards[p.PlayerID] = b
	}
	return &LiveState{
		SessionID: s.ID,
		Turn:      0,
		Version:   1,
		Boards:    boards,
	}
}

// Validate rejects a stored record that no write of ours could have produced.
// Such a record means the backend holds corrupt data.
func (l *LiveState) Validate() error {
	if l.Turn < 0 || l.Turn >= MaxPlayers {
		return fmt.Errorf("%w: live state %s has turn %d", ErrBackendUnavailable, l.SessionID, l.Turn)
	}
	if l.Version < 1 {
		return fmt.Errorf("%w: live state %s has version %d", ErrBackendUnavailable, l.SessionID, l.Version)
	}
	for pid, b := range l.Boards {
		for cid, st := range b {
			if !st.Valid() {
				return fmt.Errorf("%w: live state %s has status %q for %s/%s", ErrBackendUnavailable, l.SessionID, st, pid, cid)
			}
		}
	}
	return nil
}

func (l *LiveState) Clone() *LiveState {
	if l == nil {
		return nil
	}
	out := &LiveState{
		SessionID: l.SessionID,
		Turn:      l.Turn,
		Version:   l.Version,
		Boards:    make(map[string]Board, len(l.Boards)),
	}
	for pid, b := range l.Boards {
		out.Boards[pid] = maps.Clone(b)
	}
	return out
}

// Remaining counts characters still in play on a player's board.
func (l *LiveState) Remaining(playerID string) int {
	n := 0
	for _, st := range l.Boards[playerID] {
		if st == InPlay {
			n++
		}
	}
	return n
}

// NextTurn returns the turn index that follows turn for the given player count.
func NextTurn(turn, players int) int {
	if players <= 0 {
		return 0
	}
	return (turn + 1) % players
}
