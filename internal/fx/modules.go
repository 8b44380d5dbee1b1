package fx

import (
	"database/sql"

	"guess-who/internal/api"
	"guess-who/internal/config"
	"guess-who/internal/database"
	"guess-who/internal/live"
	"guess-who/internal/logger"
	"guess-who/internal/repository"
	"guess-who/internal/server"
	"guess-who/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// ProvideLiveStore picks the live state backend named by LIVE_BACKEND.
func ProvideLiveStore(cfg *config.Config, sqlDB *sql.DB, logger zerolog.Logger) live.Store {
	switch cfg.LiveBackend {
	case config.LiveBackendFirebase:
		logger.Info().Str("url", cfg.FirebaseURL).Msg("using firebase live store")
		return live.NewFirebaseStore(api.NewFirebaseClient(cfg), logger)
	case config.LiveBackendMemory:
		logger.Info().Msg("using in-memory live store")
		return live.NewMemoryStore()
	default:
		return repository.NewLiveRepository(sqlDB, logger)
	}
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(
		fx.Annotate(repository.NewSessionRepository, fx.As(new(service.SessionRepository))),
		fx.Annotate(repository.NewCharacterRepository, fx.As(new(service.CharacterStore))),
	),
	// live channel
	fx.Provide(ProvideLiveStore),
	fx.Provide(live.NewHub),
	fx.Provide(
		fx.Annotate(live.NewChannel, fx.As(fx.Self()), fx.As(new(service.LiveChannel))),
	),
	// svc
	fx.Provide(service.NewSessionService),
	fx.Provide(service.NewTurnService),
	fx.Provide(service.NewCharacterService),
	// server
	fx.Provide(server.NewGameServer),
)
