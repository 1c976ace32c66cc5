package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const interactionColumns = `id, created_at, session_id, question, mode, answer, score, source, latency_ms, error`

// interactionTimeLayout is fixed-width so created_at sorts lexically.
const interactionTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SaveInteraction appends one answered question to the interaction log.
func (s *Store) SaveInteraction(ctx context.Context, i Interaction) error {
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var score sql.NullFloat64
	if i.Score != nil {
		score = sql.NullFloat64{Float64: *i.Score, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, createdAt.UTC().Format(interactionTimeLayout), i.SessionID, i.Question, i.Mode,
		i.Answer, score, i.Source, i.LatencyMS, i.Error,
	)
	if err != nil {
		return fmt.Errorf("saving interaction %s: %w", i.ID, err)
	}
	return nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetRecentInteractions returns up to limit interactions, newest first. A
// non-empty sessionID restricts the result to that session.
func (s *Store) GetRecentInteractions(ctx context.Context, sessionID string, limit int) ([]Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	results := []Interaction{}
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(r rowScanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	var score sql.NullFloat64
	if err := r.Scan(&i.ID, &createdAt, &i.SessionID, &i.Question, &i.Mode, &i.Answer, &score, &i.Source, &i.LatencyMS, &i.Error); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(interactionTimeLayout, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at for interaction %s: %w", i.ID, err)
	}
	i.CreatedAt = t
	if score.Valid {
		v := score.Float64
		i.Score = &v
	}
	return i, nil
}
