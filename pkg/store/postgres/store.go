// Package postgres persists translation records in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxmeet/voxmeet/pkg/store"
)

// Store implements store.TranslationStore over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and runs pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveTranslation implements store.TranslationStore.
func (s *Store) SaveTranslation(ctx context.Context, rec store.Translation) error {
	const q = `
		INSERT INTO translations (
			session_id, participant_id, original_text, original_language,
			target_language, translated_text, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.ParticipantID,
		rec.OriginalText,
		rec.OriginalLanguage,
		rec.TargetLanguage,
		rec.TranslatedText,
		rec.Confidence,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert translation: %w", err)
	}
	return nil
}

// ListSessionTranslations returns a session's records in order, for
// post-hoc transcript retrieval.
func (s *Store) ListSessionTranslations(ctx context.Context, sessionID string, limit int) ([]store.Translation, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `
		SELECT session_id, participant_id, original_text, original_language,
		       target_language, translated_text, confidence, created_at
		FROM translations
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	defer rows.Close()

	var out []store.Translation
	for rows.Next() {
		var rec store.Translation
		if err := rows.Scan(
			&rec.SessionID,
			&rec.ParticipantID,
			&rec.OriginalText,
			&rec.OriginalLanguage,
			&rec.TargetLanguage,
			&rec.TranslatedText,
			&rec.Confidence,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
