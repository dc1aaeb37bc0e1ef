package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/similarity"
)

const envelopeColumns = `id, name, summary, keywords_json, centroid, card_count, last_card_at, created_at, updated_at`

// CreateEnvelope inserts an envelope with an empty profile.
// It returns ErrDuplicateName if the name is taken.
func (q *Queries) CreateEnvelope(ctx context.Context, name, summary string) (Envelope, error) {
	now := q.now()
	e := Envelope{
		ID:        newID(),
		Name:      name,
		Summary:   summary,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO envelopes (id, name, summary, keywords_json, card_count, created_at, updated_at)
		VALUES (?, ?, ?, '[]', 0, ?, ?)`,
		e.ID, e.Name, nullString(e.Summary), formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return Envelope{}, ErrDuplicateName
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("inserting envelope: %w", err)
	}
	return e, nil
}

func (q *Queries) GetEnvelope(ctx context.Context, id string) (Envelope, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`, id)
	return scanEnvelope(row)
}

// GetEnvelopeByName looks up an envelope by its exact display name.
func (q *Queries) GetEnvelopeByName(ctx context.Context, name string) (Envelope, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE name = ?`, name)
	return scanEnvelope(row)
}

// ListEnvelopes returns all envelopes, most recently updated first.
func (q *Queries) ListEnvelopes(ctx context.Context) ([]Envelope, error) {
	return q.queryEnvelopes(ctx, `SELECT `+envelopeColumns+` FROM envelopes ORDER BY updated_at DESC, id DESC`)
}

// ListActiveEnvelopes returns up to limit envelopes with the most cards.
func (q *Queries) ListActiveEnvelopes(ctx context.Context, limit int) ([]Envelope, error) {
	return q.queryEnvelopes(ctx, `SELECT `+envelopeColumns+` FROM envelopes
		ORDER BY card_count DESC, updated_at DESC, id DESC LIMIT ?`, limit)
}

// UpdateProfile replaces the envelope's derived profile.
func (q *Queries) UpdateProfile(ctx context.Context, id string, p Profile) error {
	keywords, err := encodeStrings(p.Keywords)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE envelopes SET keywords_json = ?, centroid = ?, card_count = ?, last_card_at = ?, updated_at = ?
		WHERE id = ?`,
		keywords, similarity.EncodeVector(p.Centroid), p.CardCount, formatOptionalTime(p.LastCardAt), q.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("updating envelope profile: %w", err)
	}
	return expectOneRow(res)
}

// UpdateSummary renames the envelope and replaces its summary.
// It returns ErrDuplicateName if another envelope already has the name.
func (q *Queries) UpdateSummary(ctx context.Context, id, name, summary string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE envelopes SET name = ?, summary = ?, updated_at = ? WHERE id = ?`,
		name, nullString(summary), q.timestamp(), id)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("updating envelope summary: %w", err)
	}
	return expectOneRow(res)
}

func (q *Queries) queryEnvelopes(ctx context.Context, query string, args ...any) ([]Envelope, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying envelopes: %w", err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(s scanner) (Envelope, error) {
	var (
		e                    Envelope
		summary, lastCardAt  sql.NullString
		keywords             string
		centroid             []byte
		createdAt, updatedAt string
	)
	err := s.Scan(&e.ID, &e.Name, &summary, &keywords, &centroid, &e.CardCount, &lastCardAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("scanning envelope: %w", err)
	}
	e.Summary = summary.String
	if e.Keywords, err = decodeStrings(keywords); err != nil {
		return Envelope{}, err
	}
	if e.Centroid, err = similarity.DecodeVector(centroid); err != nil {
		return Envelope{}, fmt.Errorf("decoding centroid for envelope %s: %w", e.ID, err)
	}
	if e.LastCardAt, err = parseOptionalTime(lastCardAt); err != nil {
		return Envelope{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Envelope{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
