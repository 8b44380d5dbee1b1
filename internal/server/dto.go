package server

import (
	"time"

	"guess-who/internal/domain"
)

type characterDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PortraitRef string    `json:"portraitRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type playerDTO struct {
	PlayerID    string `json:"playerId"`
	TurnIndex   int    `json:"turnIndex"`
	DisplayName string `json:"displayName,omitempty"`
}

type sessionDTO struct {
	ID                   string      `json:"id"`
	Code                 string      `json:"code"`
	CreatorID            string      `json:"creatorId"`
	Status               string      `json:"status"`
	Players              []playerDTO `json:"players"`
	SelectedCharacterIDs []string    `json:"selectedCharacterIds"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

type liveStateDTO struct {
	SessionID string                       `json:"sessionId"`
	Turn      int                          `json:"turn"`
	Version   int64                        `json:"version"`
	Boards    map[string]map[string]string `json:"boards"`
}

type snapshotDTO struct {
	Session sessionDTO    `json:"session"`
	Live    *liveStateDTO `json:"live"`
}

func toCharacterDTO(c domain.Character) characterDTO {
	return characterDTO{
		ID:          c.ID,
		Name:        c.Name,
		PortraitRef: c.PortraitRef,
		CreatedAt:   c.CreatedAt,
	}
}

func toCharacterDTOs(chars []domain.Character) []characterDTO {
	out := make([]characterDTO, 0, len(chars))
	for _, c := range chars {
		out = append(out, toCharacterDTO(c))
	}
	return out
}

func toSessionDTO(s *domain.Session) sessionDTO {
	players := make([]playerDTO, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, playerDTO{
			PlayerID:    p.PlayerID,
			TurnIndex:   p.TurnIndex,
			DisplayName: p.DisplayName,
		})
	}
	selected := s.SelectedCharacterIDs
	if selected == nil {
		selected = []string{}
	}
	return sessionDTO{
		ID:                   s.ID,
		Code:                 s.Code,
		CreatorID:            s.CreatorID,
		Status:               string(s.Status),
		Players:              players,
		SelectedCharacterIDs: selected,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func toLiveStateDTO(st *domain.LiveState) *liveStateDTO {
	if st == nil {
		return nil
	}
	boards := make(map[string]map[string]string, len(st.Boards))
	for pid, board := range st.Boards {
		cells := make(map[string]string, len(board))
		for cid, status := range board {
			cells[cid] = string(status)
		}
		boards[pid] = cells
	}
	return &liveStateDTO{
		SessionID: st.SessionID,
		Turn:      st.Turn,
		Version:   st.Version,
		Boards:    boards,
	}
}
