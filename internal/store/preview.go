package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PreviewEntry struct {
	UserID     string
	SourceName string
	ExternalID string
	Payload    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// PutPreview inserts or refreshes a preview entry. Re-caching an existing
// entry always resets its expiry.
func (s *Store) PutPreview(ctx context.Context, entry PreviewEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preview_entries (user_id, source_name, external_id, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source_name, external_id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, entry.UserID, entry.SourceName, entry.ExternalID, entry.Payload, entry.CreatedAt.UTC(), entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("put preview: %w", err)
	}
	return nil
}

// GetPreview returns the entry if it exists and has not expired as of now.
// Expired rows are treated as absent; the sweeper reclaims them later.
func (s *Store) GetPreview(ctx context.Context, userID, sourceName, externalID string, now time.Time) (*PreviewEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, source_name, external_id, payload, created_at, expires_at
		FROM preview_entries
		WHERE user_id = ? AND source_name = ? AND external_id = ? AND expires_at > ?
	`, userID, sourceName, externalID, now.UTC())

	var entry PreviewEntry
	err := row.Scan(&entry.UserID, &entry.SourceName, &entry.ExternalID,
		&entry.Payload, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preview: %w", err)
	}
	return &entry, nil
}

// ListPreviews returns a user's unexpired entries, newest first.
func (s *Store) ListPreviews(ctx context.Context, userID string, now time.Time) ([]PreviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, source_name, external_id, payload, created_at, expires_at
		FROM preview_entries
		WHERE user_id = ? AND expires_at > ?
		ORDER BY created_at DESC
	`, userID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	defer rows.Close()

	var entries []PreviewEntry
	for rows.Next() {
		var entry PreviewEntry
		if err := rows.Scan(&entry.UserID, &entry.SourceName, &entry.ExternalID,
			&entry.Payload, &entry.CreatedAt, &entry.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan preview: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("preview rows: %w", err)
	}
	return entries, nil
}

// DeleteExpiredPreviews removes rows whose expiry is at or before now and
// reports how many were reclaimed.
func (s *Store) DeleteExpiredPreviews(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM preview_entries WHERE expires_at <= ?
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired previews: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
