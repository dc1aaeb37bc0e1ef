package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetContextSnapshot returns the stored user context, or ErrNotFound if no
// update has succeeded yet.
func (q *Queries) GetContextSnapshot(ctx context.Context) (ContextSnapshot, error) {
	var (
		s         ContextSnapshot
		updatedAt string
	)
	err := q.db.QueryRowContext(ctx, `SELECT context_json, focus_summary, updated_at FROM context_snapshot WHERE id = 1`).
		Scan(&s.ContextJSON, &s.FocusSummary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContextSnapshot{}, ErrNotFound
	}
	if err != nil {
		return ContextSnapshot{}, fmt.Errorf("reading context snapshot: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ContextSnapshot{}, err
	}
	return s, nil
}

// SaveContextSnapshot replaces the stored user context.
func (q *Queries) SaveContextSnapshot(ctx context.Context, contextJSON, focusSummary string) (ContextSnapshot, error) {
	now := q.now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO context_snapshot (id, context_json, focus_summary, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET context_json = excluded.context_json,
			focus_summary = excluded.focus_summary, updated_at = excluded.updated_at`,
		contextJSON, focusSummary, formatTime(now),
	)
	if err != nil {
		return ContextSnapshot{}, fmt.Errorf("saving context snapshot: %w", err)
	}
	return ContextSnapshot{ContextJSON: contextJSON, FocusSummary: focusSummary, UpdatedAt: now}, nil
}
