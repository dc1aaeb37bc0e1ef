package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// LogIngestion records the outcome of one extraction attempt.
func (q *Queries) LogIngestion(ctx context.Context, e IngestionEvent) (IngestionEvent, error) {
	now := q.now().UTC()
	e.ID = newID()
	e.CreatedAt = now
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ingestion_events (id, card_id, model_name, prompt_version, schema_version, success, latency_ms, error_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.CardID), e.ModelName, e.PromptVersion, e.SchemaVersion, e.Success, e.LatencyMS,
		nullString(e.ErrorText), formatTime(now),
	)
	if err != nil {
		return IngestionEvent{}, fmt.Errorf("inserting ingestion event: %w", err)
	}
	return e, nil
}

// ListIngestionEvents returns up to limit events, most recent first.
func (q *Queries) ListIngestionEvents(ctx context.Context, limit int) ([]IngestionEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, card_id, model_name, prompt_version, schema_version, success, latency_ms, error_text, created_at
		FROM ingestion_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingestion events: %w", err)
	}
	defer rows.Close()

	var out []IngestionEvent
	for rows.Next() {
		var (
			e                 IngestionEvent
			cardID, errorText sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&e.ID, &cardID, &e.ModelName, &e.PromptVersion, &e.SchemaVersion, &e.Success,
			&e.LatencyMS, &errorText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ingestion event: %w", err)
		}
		e.CardID = cardID.String
		e.ErrorText = errorText.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
