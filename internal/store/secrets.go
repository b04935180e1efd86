package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUserSecret returns the stored secret for (userID, provider), or "" when
// none has been saved.
func (s *Store) GetUserSecret(ctx context.Context, userID, provider string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT secret FROM user_secrets WHERE user_id = ? AND provider = ?
	`, userID, provider)

	var secret string
	err := row.Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user secret: %w", err)
	}
	return secret, nil
}

// PutUserSecret saves or replaces a user's per-provider secret.
func (s *Store) PutUserSecret(ctx context.Context, userID, provider, secret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_secrets (user_id, provider, secret, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			secret = excluded.secret,
			updated_at = CURRENT_TIMESTAMP
	`, userID, provider, secret)
	if err != nil {
		return fmt.Errorf("put user secret: %w", err)
	}
	return nil
}
