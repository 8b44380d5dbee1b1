package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"guess-who/internal/constants"
	"guess-who/internal/domain"
	"guess-who/internal/identity"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type serverMessage struct {
	Type    string        `json:"type"`
	State   *liveStateDTO `json:"state,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

type clientMessage struct {
	Type        string `json:"type"`
	CharacterID string `json:"characterId,omitempty"`
	Status      string `json:"status,omitempty"`
}

// liveSocket streams the session's live state to the client and accepts moves
// and end-turn commands from it.
func (s *GameServer) liveSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	playerID := identity.PlayerIDFromContext(r.Context())
	log := zerolog.Ctx(r.Context()).With().Str("session_id", sessionID).Str("player_id", playerID).Logger()

	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.AllowedOrigins,
		InsecureSkipVerify: s.cfg.DevMode,
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := func(msg serverMessage) error {
		writeCtx, cancel := context.WithTimeout(ctx, constants.WSWriteTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, msg)
	}

	sub, err := s.turns.Subscribe(ctx, sessionID, func(st *domain.LiveState) {
		if err := send(serverMessage{Type: "state", State: toLiveStateDTO(st)}); err != nil {
			log.Debug().Err(err).Msg("failed to push state")
			cancel()
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe")
		conn.Close(websocket.StatusInternalError, domain.Message(err))
		return
	}
	defer s.turns.Unsubscribe(sub)

	go func() {
		ticker := time.NewTicker(constants.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	log.Info().Msg("live connection opened")
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Msg("live connection read failed")
				}
			}
			log.Info().Msg("live connection closed")
			return
		}

		var cmdErr error
		switch msg.Type {
		case "move":
			cmdErr = s.turns.ApplyMove(ctx, sessionID, playerID, msg.CharacterID, domain.CharacterStatus(msg.Status))
		case "endTurn":
			cmdErr = s.turns.EndTurn(ctx, sessionID, playerID)
		case "ping":
			cmdErr = send(serverMessage{Type: "pong"})
		default:
			cmdErr = domain.ErrValidation
		}
		if cmdErr != nil {
			if err := send(serverMessage{Type: "error", Code: domain.Code(cmdErr), Message: domain.Message(cmdErr)}); err != nil {
				return
			}
		}
	}
}
