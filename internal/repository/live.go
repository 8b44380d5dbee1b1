package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

// LiveRepository keeps realtime game state in SQLite. Every write runs in an
// immediate transaction, so the turn checks below are compare-and-swap.
type LiveRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLiveRepository(sqlDB *sql.DB, logger zerolog.Logger) *LiveRepository {
	return &LiveRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *LiveRepository) Get(ctx context.Context, sessionID string) (*domain.LiveState, error) {
	return loadLiveState(ctx, r.db, sessionID)
}

// CreateIfAbsent writes state unless a record already exists for its session, in
// which case the existing record is returned untouched.
func (r *LiveRepository) CreateIfAbsent(ctx context.Context, state *domain.LiveState) (*domain.LiveState, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO live_states (session_id, turn, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		state.SessionID, state.Turn, state.Version, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert live state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := loadLiveState(ctx, tx, state.SessionID)
		if err != nil {
			return nil, false, err
		}
		r.logger.Debug().Str("session_id", state.SessionID).Msg("live state already seeded")
		return existing, false, nil
	}

	for pid, board := range state.Boards {
		for cid, st := range board {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO live_boards (session_id, player_id, character_id, status) VALUES (?, ?, ?, ?)`,
				state.SessionID, pid, cid, string(st),
			)
			if err != nil {
				return nil, false, fmt.Errorf("failed to insert board cell: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit live state: %w", err)
	}
	return state.Clone(), true, nil
}

// ApplyBoard updates cells on one player's board, provided the turn still equals turnIndex.
func (r *LiveRepository) ApplyBoard(ctx context.Context, sessionID, playerID string, turnIndex int, marks map[string]domain.CharacterStatus) (*domain.LiveState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	turn, err := currentTurn(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if turn != turnIndex {
		return nil, domain.ErrNotYourTurn
	}

	for cid, st := range marks {
		res, err := tx.ExecContext(ctx,
			`UPDATE live_boards SET status = ? WHERE session_id = ? AND player_id = ? AND character_id = ?`,
			string(st), sessionID, playerID, cid,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update board: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCharacter, cid)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE live_states SET version = version + 1, updated_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID,
	); err != nil {
		return nil, fmt.Errorf("failed to bump version: %w", err)
	}

	state, err := loadLiveState(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit board: %w", err)
	}
	return state, nil
}

// AdvanceTurn sets the turn to `to` only if it currently equals `from`.
func (r *LiveRepository) AdvanceTurn(ctx context.Context, sessionID string, from, to int) (*domain.LiveState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE live_states SET turn = ?, version = version + 1, updated_at = ? WHERE session_id = ? AND turn = ?`,
		to, time.Now().UTC(), sessionID, from,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to advance turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := currentTurn(ctx, tx, sessionID); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotYourTurn
	}

	state, err := loadLiveState(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	r.logger.Debug().Str("session_id", sessionID).Int("from", from).Int("to", to).Msg("turn advanced")
	return state, nil
}

func currentTurn(ctx context.Context, q querier, sessionID string) (int, error) {
	var turn int
	err := q.QueryRowContext(ctx, `SELECT turn FROM live_states WHERE session_id = ?`, sessionID).Scan(&turn)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotLive
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read turn: %w", err)
	}
	return turn, nil
}

func loadLiveState(ctx context.Context, q querier, sessionID string) (*domain.LiveState, error) {
	state := &domain.LiveState{SessionID: sessionID, Boards: map[string]domain.Board{}}
	err := q.QueryRowContext(ctx,
		`SELECT turn, version FROM live_states WHERE session_id = ?`,
		sessionID,
	).Scan(&state.Turn, &state.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotLive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live state: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT player_id, character_id, status FROM live_boards WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get boards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, cid, st string
		if err := rows.Scan(&pid, &cid, &st); err != nil {
			return nil, fmt.Errorf("failed to scan board cell: %w", err)
		}
		b, ok := state.Boards[pid]
		if !ok {
			b = domain.Board{}
			state.Boards[pid] = b
		}
		b[cid] = domain.CharacterStatus(st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read boards: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state, nil
}
