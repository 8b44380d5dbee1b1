package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"guess-who/internal/config"
	"guess-who/internal/constants"
	fxmodules "guess-who/internal/fx"
	"guess-who/internal/live"
	"guess-who/internal/server"
	"guess-who/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	gameServer *server.GameServer,
	turns *service.TurnService,
	channel *live.Channel,
	hub *live.Hub,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: gameServer.Routes(),
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.LivePollInterval > 0 {
				logger.Info().Dur("interval", cfg.LivePollInterval).Msg("polling live store for remote changes")
				go channel.Poll(pollCtx, cfg.LivePollInterval, cfg.OpTimeout)
			}
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			stopPolling()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			turns.Close()
			hub.Close()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
