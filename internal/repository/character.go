package repository

import (
	"context"
	"database/sql"
	"fmt"

	"guess-who/internal/constants"
	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

// CharacterRepository persists each owner's character collection as a whole.
type CharacterRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCharacterRepository(sqlDB *sql.DB, logger zerolog.Logger) *CharacterRepository {
	return &CharacterRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Load returns the owner's characters in saved order. An owner with nothing saved gets an empty slice.
func (r *CharacterRepository) Load(ctx context.Context, ownerID string) ([]domain.Character, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, portrait_ref, created_at FROM characters WHERE owner_id = ? ORDER BY position`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load characters: %w", err)
	}
	defer rows.Close()

	chars := []domain.Character{}
	for rows.Next() {
		var c domain.Character
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.PortraitRef, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// InActiveSession reports whether a waiting or started session created by
// ownerID has the character selected.
func (r *CharacterRepository) InActiveSession(ctx context.Context, ownerID, characterID string) (bool, error) {
	var inUse bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM session_characters sc
			JOIN sessions s ON s.id = sc.session_id
			WHERE s.creator_id = ? AND sc.character_id = ? AND s.status != 'finished'
		)`,
		ownerID, characterID,
	).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("failed to check character use: %w", err)
	}
	return inUse, nil
}

// Save replaces the owner's whole collection in one transaction.
func (r *CharacterRepository) Save(ctx context.Context, ownerID string, chars []domain.Character) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM characters WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to clear characters: %w", err)
	}

	for i := 0; i < len(chars); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(chars))

		chunk := chars[i:end]
		args := make([]any, 0, len(chunk)*6)
		for j, c := range chunk {
			args = append(args, ownerID, c.ID, c.Name, c.PortraitRef, i+j, c.CreatedAt)
		}
		query := `INSERT INTO characters (owner_id, id, name, portrait_ref, position, created_at) VALUES ` + placeholders(len(chunk), 6)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert characters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit characters: %w", err)
	}

	r.logger.Debug().Str("owner_id", ownerID).Int("count", len(chars)).Msg("characters saved")
	return nil
}
