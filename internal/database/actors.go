package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gharsathi/internal/models"
)

// UpsertActor registers or refreshes a directory entry.
func (db *DB) UpsertActor(ctx context.Context, actor models.Actor) error {
	query := `INSERT INTO actors (id, role, name, telegram_chat_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                role = excluded.role,
                name = excluded.name,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query, actor.ID, actor.Role, actor.Name, actor.TelegramChatID, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert actor: %w", err)
	}
	return nil
}

// SeedActors upserts every actor in one transaction.
func (db *DB) SeedActors(ctx context.Context, actors []models.Actor) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO actors (id, role, name, telegram_chat_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                role = excluded.role,
                name = excluded.name,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	now := time.Now()
	for _, a := range actors {
		if _, err := tx.ExecContext(ctx, query, a.ID, a.Role, a.Name, a.TelegramChatID, now, now); err != nil {
			return fmt.Errorf("failed to seed actor %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit actors: %w", err)
	}
	db.logger.Info().Int("count", len(actors)).Msg("Actor directory seeded")
	return nil
}

func (db *DB) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	query := `SELECT id, role, name, telegram_chat_id FROM actors WHERE id = ?`

	var (
		a      models.Actor
		name   sql.NullString
		chatID sql.NullInt64
	)
	err := db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Role, &name, &chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrActorNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	a.Name = name.String
	a.TelegramChatID = chatID.Int64
	return &a, nil
}
