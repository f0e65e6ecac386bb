package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ansarisultan/lexachat-server/internal/auth"
	"github.com/ansarisultan/lexachat-server/internal/db"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(database *sql.DB) Store {
	return Store{db: database, now: time.Now}
}

func (s Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	rawToken, err := auth.RandomToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(ttl).UTC()
	query := `INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?);`

	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), userID, auth.HashToken(rawToken), db.Timestamp(expiresAt), db.Timestamp(now)); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}

	return rawToken, expiresAt, nil
}

// ResolveSession returns the user id owning an unexpired token.
func (s Store) ResolveSession(ctx context.Context, rawToken string) (string, error) {
	if strings.TrimSpace(rawToken) == "" {
		return "", ErrNotFound
	}

	var userID string
	err := s.db.QueryRowContext(ctx, `
SELECT user_id FROM sessions
WHERE token_hash = ? AND expires_at > ?
LIMIT 1;
`, auth.HashToken(rawToken), db.Timestamp(s.now())).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return userID, nil
}

func (s Store) DeleteSession(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?;`, auth.HashToken(rawToken))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions revokes every session of a user, used after password changes.
func (s Store) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?;`, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (s Store) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?;`, db.Timestamp(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
