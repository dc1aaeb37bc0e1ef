package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const cardColumns = `id, raw_text, card_type, description, due_at, assignee, keywords_json, envelope_id, created_at, updated_at`

// CreateCard inserts c, assigning its ID and timestamps, and returns the stored card.
func (q *Queries) CreateCard(ctx context.Context, c Card) (Card, error) {
	if !c.CardType.Valid() {
		return Card{}, fmt.Errorf("invalid card type %q", c.CardType)
	}
	keywords, err := encodeStrings(c.Keywords)
	if err != nil {
		return Card{}, err
	}
	now := q.now().UTC()
	c.ID = newID()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RawText, string(c.CardType), c.Description, formatOptionalTime(c.DueAt),
		nullString(c.Assignee), keywords, nullString(c.EnvelopeID), formatTime(now), formatTime(now),
	)
	if err != nil {
		return Card{}, fmt.Errorf("inserting card: %w", err)
	}
	if c.Keywords == nil {
		c.Keywords = []string{}
	}
	return c, nil
}

func (q *Queries) GetCard(ctx context.Context, id string) (Card, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	return scanCard(row)
}

// ListCards returns up to limit cards, most recent first.
func (q *Queries) ListCards(ctx context.Context, limit int) ([]Card, error) {
	return q.queryCards(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ListCardsByEnvelope returns every card in the envelope, most recent first.
func (q *Queries) ListCardsByEnvelope(ctx context.Context, envelopeID string) ([]Card, error) {
	return q.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE envelope_id = ?
		ORDER BY created_at DESC, id DESC`, envelopeID)
}

// AddEntities records the entities extracted for a card.
func (q *Queries) AddEntities(ctx context.Context, cardID string, entities []Entity) error {
	for _, e := range entities {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO card_entities (card_id, entity_type, value, role, confidence) VALUES (?, ?, ?, ?, ?)`,
			cardID, e.Type, e.Value, e.Role, e.Confidence,
		); err != nil {
			return fmt.Errorf("inserting entity %q: %w", e.Value, err)
		}
	}
	return nil
}

func (q *Queries) ListEntities(ctx context.Context, cardID string) ([]Entity, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT card_id, entity_type, value, role, confidence FROM card_entities WHERE card_id = ? ORDER BY rowid`, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.CardID, &e.Type, &e.Value, &e.Role, &e.Confidence); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(s scanner) (Card, error) {
	var (
		c                           Card
		cardType, keywords          string
		dueAt, assignee, envelopeID sql.NullString
		createdAt, updatedAt        string
	)
	err := s.Scan(&c.ID, &c.RawText, &cardType, &c.Description, &dueAt, &assignee, &keywords, &envelopeID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("scanning card: %w", err)
	}
	c.CardType = CardType(cardType)
	c.Assignee = assignee.String
	c.EnvelopeID = envelopeID.String
	if c.Keywords, err = decodeStrings(keywords); err != nil {
		return Card{}, err
	}
	if c.DueAt, err = parseOptionalTime(dueAt); err != nil {
		return Card{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Card{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Card{}, err
	}
	return c, nil
}
