package constants

import "time"

const (
	DefaultOpTimeout    = 5 * time.Second
	DefaultMoveDebounce = 500 * time.Millisecond
	ExternalAPITimeout  = 10 * time.Second
)

const (
	DBMaxOpenConns    = 16
	DBMaxIdleConns    = 4
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
	DBBusyTimeoutMS   = 5000
)

const (
	// CodeGenerationAttempts bounds regeneration when a new code collides with an active session.
	CodeGenerationAttempts = 3
	// ETagAttempts bounds the read/compare/write loop against the realtime database.
	ETagAttempts = 5
)

const (
	MaxCharacterNameLength = 64
	MaxDisplayNameLength   = 32
	MaxSelectedCharacters  = 48

	MinIdentitySecretLength = 32
)

const (
	WSWriteTimeout  = 3 * time.Second
	WSPingInterval  = 30 * time.Second
	ShutdownTimeout = 5 * time.Second
)
