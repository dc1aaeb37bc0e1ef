package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateRun opens a thinking run in the "started" state.
func (q *Queries) CreateRun(ctx context.Context, id string) (ThinkingRun, error) {
	now := q.now().UTC()
	if id == "" {
		id = newID()
	}
	_, err := q.db.ExecContext(ctx, `INSERT INTO thinking_runs (id, status, started_at) VALUES (?, 'started', ?)`,
		id, formatTime(now))
	if err != nil {
		return ThinkingRun{}, fmt.Errorf("inserting thinking run: %w", err)
	}
	return ThinkingRun{ID: id, Status: "started", StartedAt: now}, nil
}

func (q *Queries) CompleteRun(ctx context.Context, id, summaryJSON string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE thinking_runs SET status = 'completed', summary_json = ?, completed_at = ? WHERE id = ?`,
		summaryJSON, q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("completing thinking run: %w", err)
	}
	return expectOneRow(res)
}

func (q *Queries) FailRun(ctx context.Context, id, errText string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE thinking_runs SET status = 'failed', error_text = ?, completed_at = ? WHERE id = ?`,
		errText, q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failing thinking run: %w", err)
	}
	return expectOneRow(res)
}

// ListRuns returns up to limit runs, most recent first.
func (q *Queries) ListRuns(ctx context.Context, limit int) ([]ThinkingRun, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, status, summary_json, error_text, started_at, completed_at
		FROM thinking_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying thinking runs: %w", err)
	}
	defer rows.Close()

	var out []ThinkingRun
	for rows.Next() {
		var (
			r                             ThinkingRun
			summary, errText, completedAt sql.NullString
			startedAt                     string
		)
		if err := rows.Scan(&r.ID, &r.Status, &summary, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning thinking run: %w", err)
		}
		r.SummaryJSON = summary.String
		r.ErrorText = errText.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const suggestionColumns = `id, run_id, suggestion_type, title, message, priority, score, related_refs_json, fingerprint, status, created_at, updated_at`

// AddSuggestion records an open suggestion.
func (q *Queries) AddSuggestion(ctx context.Context, s Suggestion) (Suggestion, error) {
	now := q.now().UTC()
	s.ID = newID()
	s.Status = "open"
	s.CreatedAt, s.UpdatedAt = now, now
	if s.RelatedRefsJSON == "" {
		s.RelatedRefsJSON = "{}"
	}
	_, err := q.db.ExecContext(ctx, `INSERT INTO suggestions (`+suggestionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, nullString(s.RunID), s.Type, s.Title, s.Message, s.Priority, s.Score, s.RelatedRefsJSON,
		s.Fingerprint, s.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return Suggestion{}, fmt.Errorf("inserting suggestion: %w", err)
	}
	return s, nil
}

// FindOpenSuggestion returns the open suggestion with the fingerprint, if any.
func (q *Queries) FindOpenSuggestion(ctx context.Context, fingerprint string) (Suggestion, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions
		WHERE fingerprint = ? AND status = 'open' ORDER BY created_at DESC LIMIT 1`, fingerprint)
	return scanSuggestion(row)
}

func (q *Queries) GetSuggestion(ctx context.Context, id string) (Suggestion, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	return scanSuggestion(row)
}

// ListSuggestions returns up to limit suggestions, highest score first.
// An empty status matches every status.
func (q *Queries) ListSuggestions(ctx context.Context, status string, limit int) ([]Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY score DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateSuggestionStatus(ctx context.Context, id, status string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE suggestions SET status = ?, updated_at = ? WHERE id = ?`,
		status, q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating suggestion status: %w", err)
	}
	return expectOneRow(res)
}

func scanSuggestion(sc scanner) (Suggestion, error) {
	var (
		s                    Suggestion
		runID                sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(&s.ID, &runID, &s.Type, &s.Title, &s.Message, &s.Priority, &s.Score, &s.RelatedRefsJSON,
		&s.Fingerprint, &s.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("scanning suggestion: %w", err)
	}
	s.RunID = runID.String
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return Suggestion{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Suggestion{}, err
	}
	return s, nil
}
