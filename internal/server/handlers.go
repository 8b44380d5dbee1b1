package server

import (
	"net/http"

	"guess-who/internal/domain"
	"guess-who/internal/identity"

	"github.com/go-chi/chi/v5"
)

func (s *GameServer) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"playerId": identity.PlayerIDFromContext(r.Context())})
}

func (s *GameServer) listCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.characters.List(r.Context(), identity.PlayerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCharacterDTOs(chars))
}

type createCharacterRequest struct {
	Name        string `json:"name"`
	PortraitRef string `json:"portraitRef"`
}

func (s *GameServer) createCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.characters.Create(r.Context(), identity.PlayerIDFromContext(r.Context()), req.Name, req.PortraitRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCharacterDTO(*c))
}

func (s *GameServer) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	err := s.characters.Delete(r.Context(), identity.PlayerIDFromContext(r.Context()), chi.URLParam(r, "characterID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createSessionRequest struct {
	// Join admits the creator as the first player straight away.
	Join        bool   `json:"join"`
	DisplayName string `json:"displayName"`
}

func (s *GameServer) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	playerID := identity.PlayerIDFromContext(r.Context())

	session, err := s.sessions.CreateSession(r.Context(), playerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Join {
		session, err = s.sessions.JoinSession(r.Context(), session.Code, playerID, req.DisplayName)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

func (s *GameServer) getSessionByCode(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetSessionByCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

func (s *GameServer) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

type joinSessionRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

func (s *GameServer) joinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.sessions.JoinSession(r.Context(), req.Code, identity.PlayerIDFromContext(r.Context()), req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

type chooseCharactersRequest struct {
	CharacterIDs []string `json:"characterIds"`
}

func (s *GameServer) chooseCharacters(w http.ResponseWriter, r *http.Request) {
	var req chooseCharactersRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.ChooseCharacters(r.Context(), sessionID, identity.PlayerIDFromContext(r.Context()), req.CharacterIDs); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSession(w, r, sessionID)
}

func (s *GameServer) boardCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.sessions.BoardCharacters(r.Context(), chi.URLParam(r, "sessionID"), identity.PlayerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCharacterDTOs(chars))
}

func (s *GameServer) startSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.StartSession(r.Context(), sessionID, identity.PlayerIDFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	s.snapshot(w, r)
}

func (s *GameServer) finishSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.FinishSession(r.Context(), sessionID, identity.PlayerIDFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSession(w, r, sessionID)
}

func (s *GameServer) snapshot(w http.ResponseWriter, r *http.Request) {
	session, state, err := s.sessions.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotDTO{Session: toSessionDTO(session), Live: toLiveStateDTO(state)})
}

type applyMoveRequest struct {
	CharacterID string `json:"characterId"`
	Status      string `json:"status"`
}

func (s *GameServer) applyMove(w http.ResponseWriter, r *http.Request) {
	var req applyMoveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := s.turns.ApplyMove(r.Context(), chi.URLParam(r, "sessionID"), identity.PlayerIDFromContext(r.Context()),
		req.CharacterID, domain.CharacterStatus(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) endTurn(w http.ResponseWriter, r *http.Request) {
	if err := s.turns.EndTurn(r.Context(), chi.URLParam(r, "sessionID"), identity.PlayerIDFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) writeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}
