package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"guess-who/internal/constants"
	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

type SessionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSessionRepository(sqlDB *sql.DB, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Create inserts a new session. It returns domain.ErrCodeTaken when another
// unfinished session already uses the code.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, code, creator_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Code, s.CreatorID, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Debug().Str("code", s.Code).Msg("session code collision")
			return domain.ErrCodeTaken
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, p := range s.Players {
		if err := insertPlayer(ctx, tx, s.ID, p); err != nil {
			return err
		}
	}
	if err := replaceCharacters(ctx, tx, s.ID, s.SelectedCharacterIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	r.logger.Debug().Str("session_id", s.ID).Str("code", s.Code).Msg("session created")
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	return loadSession(ctx, r.db, id)
}

// GetByCode prefers the unfinished session holding code and falls back to the
// most recent finished one.
func (r *SessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	id, err := sessionIDByCode(ctx, r.db, code)
	if err != nil {
		return nil, err
	}
	return loadSession(ctx, r.db, id)
}

// AppendPlayer admits player to the session holding code. The read and the insert
// share one immediate transaction so concurrent joins serialize.
func (r *SessionRepository) AppendPlayer(ctx context.Context, code string, player domain.Player) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := sessionIDByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	s, err := loadSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, ok := s.Player(player.PlayerID); ok {
		return nil, domain.ErrAlreadyJoined
	}
	if len(s.Players) >= domain.MaxPlayers {
		return nil, domain.ErrSessionFull
	}
	if s.Status != domain.StatusWaiting {
		return nil, fmt.Errorf("%w: session is %s", domain.ErrInvalidState, s.Status)
	}

	player.TurnIndex = len(s.Players)
	if err := insertPlayer(ctx, tx, s.ID, player); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, s.ID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}

	s.Players = append(s.Players, player)
	s.UpdatedAt = now

	r.logger.Debug().
		Str("session_id", s.ID).
		Str("player_id", player.PlayerID).
		Int("turn_index", player.TurnIndex).
		Msg("player appended")
	return s, nil
}

// UpdateFields applies patch only if cond holds on the stored session, otherwise
// it returns domain.ErrInvalidState and leaves the row untouched.
func (r *SessionRepository) UpdateFields(ctx context.Context, id string, patch domain.SessionPatch, cond domain.SessionCondition) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s, err := loadSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !cond.Holds(s) {
		return nil, fmt.Errorf("%w: session %s is %s with %d players", domain.ErrInvalidState, s.ID, s.Status, len(s.Players))
	}

	now := time.Now().UTC()
	if patch.Status != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(*patch.Status), id); err != nil {
			if isUniqueViolation(err) {
				return nil, domain.ErrCodeTaken
			}
			return nil, fmt.Errorf("failed to update status: %w", err)
		}
		s.Status = *patch.Status
	}
	if patch.SelectedCharacterIDs != nil {
		if err := replaceCharacters(ctx, tx, id, patch.SelectedCharacterIDs); err != nil {
			return nil, err
		}
		s.SelectedCharacterIDs = append([]string(nil), patch.SelectedCharacterIDs...)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	s.UpdatedAt = now
	return s, nil
}

func sessionIDByCode(ctx context.Context, q querier, code string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE code = ? ORDER BY status = 'finished', created_at DESC LIMIT 1`,
		code,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up code: %w", err)
	}
	return id, nil
}

func loadSession(ctx context.Context, q querier, id string) (*domain.Session, error) {
	s := &domain.Session{}
	var status string
	err := q.QueryRowContext(ctx,
		`SELECT id, code, creator_id, status, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Code, &s.CreatorID, &status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	if !s.Status.Valid() {
		return nil, fmt.Errorf("%w: session %s has status %q", domain.ErrBackendUnavailable, id, status)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT player_id, turn_index, display_name, joined_at FROM session_players WHERE session_id = ? ORDER BY turn_index`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.PlayerID, &p.TurnIndex, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		s.Players = append(s.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	charRows, err := q.QueryContext(ctx,
		`SELECT character_id FROM session_characters WHERE session_id = ? ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get selected characters: %w", err)
	}
	defer charRows.Close()
	for charRows.Next() {
		var cid string
		if err := charRows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("failed to scan character id: %w", err)
		}
		s.SelectedCharacterIDs = append(s.SelectedCharacterIDs, cid)
	}
	return s, charRows.Err()
}

func insertPlayer(ctx context.Context, q querier, sessionID string, p domain.Player) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO session_players (session_id, player_id, turn_index, display_name, joined_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, p.PlayerID, p.TurnIndex, p.DisplayName, p.JoinedAt,
	)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "player_id") {
			return domain.ErrAlreadyJoined
		}
		return domain.ErrSessionFull
	}
	return fmt.Errorf("failed to insert player: %w", err)
}

func replaceCharacters(ctx context.Context, q querier, sessionID string, ids []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM session_characters WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear selected characters: %w", err)
	}

	for i := 0; i < len(ids); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(ids))

		chunk := ids[i:end]
		args := make([]any, 0, len(chunk)*3)
		for j, cid := range chunk {
			args = append(args, sessionID, cid, i+j)
		}
		query := `INSERT INTO session_characters (session_id, character_id, position) VALUES ` + placeholders(len(chunk), 3)
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert selected characters: %w", err)
		}
	}
	return nil
}
