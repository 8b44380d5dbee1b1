package server

import (
	"net/http"

	"guess-who/internal/config"
	"guess-who/internal/identity"
	"guess-who/internal/middleware"
	"guess-who/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// GameServer exposes the session, turn and character services over HTTP and WebSocket.
type GameServer struct {
	sessions   *service.SessionService
	turns      *service.TurnService
	characters *service.CharacterService
	cfg        *config.Config
	logger     zerolog.Logger
}

func NewGameServer(sessions *service.SessionService, turns *service.TurnService, characters *service.CharacterService, cfg *config.Config, logger zerolog.Logger) *GameServer {
	return &GameServer{
		sessions:   sessions,
		turns:      turns,
		characters: characters,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *GameServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{identity.HeaderName, "X-Request-ID"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.Middleware([]byte(s.cfg.IdentitySecret), !s.cfg.DevMode))

		r.Get("/me", s.me)

		r.Get("/characters", s.listCharacters)
		r.Post("/characters", s.createCharacter)
		r.Delete("/characters/{characterID}", s.deleteCharacter)

		r.Post("/sessions", s.createSession)
		r.Get("/sessions", s.getSessionByCode)
		r.Post("/sessions/join", s.joinSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Put("/characters", s.chooseCharacters)
			r.Get("/characters", s.boardCharacters)
			r.Post("/start", s.startSession)
			r.Post("/finish", s.finishSession)
			r.Get("/live", s.snapshot)
			r.Post("/moves", s.applyMove)
			r.Post("/end-turn", s.endTurn)
			r.Get("/ws", s.liveSocket)
		})
	})

	return r
}
