package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"guess-who/internal/constants"

	"github.com/joho/godotenv"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const (
	LiveBackendSQLite   = "sqlite"
	LiveBackendFirebase = "firebase"
	LiveBackendMemory   = "memory"
)

type Config struct {
	DBPath     string
	ServerPort string
	LogLevel   string
	DevMode    bool

	OpTimeout    time.Duration
	MoveDebounce time.Duration

	LiveBackend       string
	LivePollInterval  time.Duration
	FirebaseURL       string
	FirebaseAuthToken string

	AllowedOrigins []string

	// IdentitySecret keys the public player ids derived from device credentials.
	IdentitySecret string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:            getEnv("DB_PATH", "guesswho.db"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvBool("DEV_MODE", false),
		OpTimeout:         getEnvDuration("OP_TIMEOUT", constants.DefaultOpTimeout),
		MoveDebounce:      getEnvDuration("MOVE_DEBOUNCE", constants.DefaultMoveDebounce),
		LiveBackend:       strings.ToLower(getEnv("LIVE_BACKEND", LiveBackendSQLite)),
		LivePollInterval:  getEnvDuration("LIVE_POLL_INTERVAL", 0),
		FirebaseURL:       strings.TrimRight(getEnv("FIREBASE_DATABASE_URL", ""), "/"),
		FirebaseAuthToken: getEnv("FIREBASE_AUTH_TOKEN", ""),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		IdentitySecret:    getEnv("IDENTITY_SECRET", ""),
	}

	if cfg.IdentitySecret == "" {
		secret, err := gonanoid.New(constants.MinIdentitySecretLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity secret: %w", err)
		}
		cfg.IdentitySecret = secret
		logger.Warn().Msg("IDENTITY_SECRET not set, player ids will change on restart")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("live_backend", cfg.LiveBackend).
		Dur("op_timeout", cfg.OpTimeout).
		Dur("move_debounce", cfg.MoveDebounce).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.OpTimeout <= 0 {
		return fmt.Errorf("OP_TIMEOUT must be positive")
	}
	if c.MoveDebounce < 0 {
		return fmt.Errorf("MOVE_DEBOUNCE must not be negative")
	}
	if len(c.IdentitySecret) < constants.MinIdentitySecretLength {
		return fmt.Errorf("IDENTITY_SECRET must be at least %d characters", constants.MinIdentitySecretLength)
	}
	switch c.LiveBackend {
	case LiveBackendSQLite, LiveBackendMemory:
	case LiveBackendFirebase:
		if c.FirebaseURL == "" {
			return fmt.Errorf("FIREBASE_DATABASE_URL is required when LIVE_BACKEND=firebase")
		}
		if !strings.HasPrefix(c.FirebaseURL, "https://") && !strings.HasPrefix(c.FirebaseURL, "http://") {
			return fmt.Errorf("FIREBASE_DATABASE_URL must be an http(s) url")
		}
	default:
		return fmt.Errorf("unknown LIVE_BACKEND %q", c.LiveBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvDuration accepts Go duration strings or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var Module = fx.Provide(Load)
