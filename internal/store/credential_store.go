package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nvasquez/todocal-sync/internal/domain"
)

// SaveCredential upserts the single credential row for a user, encrypting
// both tokens before they touch the database. Last write wins; two
// near-simultaneous refreshes both leave a valid credential behind.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred domain.Credential) error {
	if cred.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	access, err := s.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		cred.UserID, access, refresh, cred.Expiry.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving credential for %s: %w", cred.UserID, err)
	}
	return nil
}

// GetCredential returns the user's credential with decrypted tokens, or
// nil when the calendar is not connected.
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	var cred domain.Credential
	err := s.db.GetContext(ctx, &cred,
		"SELECT * FROM credentials WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential for %s: %w", userID, err)
	}

	if cred.AccessToken, err = s.cipher.Decrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}
	if cred.RefreshToken, err = s.cipher.Decrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}
	return &cred, nil
}

// DeleteCredential disconnects the user's calendar.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting credential for %s: %w", userID, err)
	}
	return nil
}
