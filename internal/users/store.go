package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ansarisultan/lexachat-server/internal/db"
	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("user already exists with this email")
	ErrOTPMissing = errors.New("signup otp not found")
)

const (
	DefaultTheme       = "dark"
	DefaultMode        = "session"
	PasswordResetTTL   = 15 * time.Minute
	EmailVerifyTTL     = 24 * time.Hour
	userSelectColumns  = `id, name, email, email_verified, theme, default_mode, last_login_at, created_at, updated_at`
	signupOTPSelectCol = `email, COALESCE(otp_secret, ''), otp_expires_at, verified_at, attempts`
)

type Preferences struct {
	Theme       string `json:"theme"`
	DefaultMode string `json:"defaultMode"`
}

type User struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	EmailVerified bool        `json:"emailVerified"`
	Preferences   Preferences `json:"preferences"`
	LastLogin     *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

type NewUser struct {
	Name          string
	Email         string
	PasswordHash  string
	EmailVerified bool
}

type SignupOTP struct {
	Email      string
	Secret     string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	Attempts   int
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(database *sql.DB) Store {
	return Store{db: database, now: time.Now}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s Store) Create(ctx context.Context, in NewUser) (User, error) {
	now := db.Timestamp(s.now())
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, name, email, password_hash, email_verified, theme, default_mode, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, strings.TrimSpace(in.Name), NormalizeEmail(in.Email), nullable(in.PasswordHash), in.EmailVerified, DefaultTheme, DefaultMode, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	return s.FindByID(ctx, id)
}

func (s Store) FindByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userSelectColumns+` FROM users WHERE id = ? LIMIT 1;`, id)
	return scanUser(row)
}

func (s Store) FindByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userSelectColumns+` FROM users WHERE email = ? LIMIT 1;`, NormalizeEmail(email))
	return scanUser(row)
}

func (s Store) Exists(ctx context.Context, email string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?;`, NormalizeEmail(email)).Scan(&count); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return count > 0, nil
}

// Credentials returns the user and stored password hash for a login attempt.
func (s Store) Credentials(ctx context.Context, email string) (User, string, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return User{}, "", err
	}
	hash, err := s.passwordHash(ctx, user.ID)
	if err != nil {
		return User{}, "", err
	}
	return user, hash, nil
}

func (s Store) PasswordHashByID(ctx context.Context, id string) (string, error) {
	return s.passwordHash(ctx, id)
}

func (s Store) passwordHash(ctx context.Context, id string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?;`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read password hash: %w", err)
	}
	return hash.String, nil
}

func (s Store) TouchLogin(ctx context.Context, id string) error {
	now := db.Timestamp(s.now())
	return s.exec(ctx, "touch login", `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?;`, now, now, id)
}

// UpdatePreferences keeps the stored value for any empty field.
func (s Store) UpdatePreferences(ctx context.Context, id string, prefs Preferences) (User, error) {
	err := s.exec(ctx, "update preferences", `
UPDATE users SET
  theme = COALESCE(NULLIF(?, ''), theme),
  default_mode = COALESCE(NULLIF(?, ''), default_mode),
  updated_at = ?
WHERE id = ?;
`, strings.TrimSpace(prefs.Theme), strings.TrimSpace(prefs.DefaultMode), db.Timestamp(s.now()), id)
	if err != nil {
		return User{}, err
	}
	return s.FindByID(ctx, id)
}

func (s Store) SetPassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, "set password", `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?;`, passwordHash, db.Timestamp(s.now()), id)
}

func (s Store) SetPasswordResetToken(ctx context.Context, id, tokenHash string) (time.Time, error) {
	now := s.now()
	expiresAt := now.Add(PasswordResetTTL).UTC()
	err := s.exec(ctx, "set password reset token", `
UPDATE users SET password_reset_hash = ?, password_reset_expires_at = ?, updated_at = ? WHERE id = ?;
`, tokenHash, db.Timestamp(expiresAt), db.Timestamp(now), id)
	return expiresAt, err
}

// ConsumePasswordReset sets a new password for the holder of an unexpired
// reset token and clears the token.
func (s Store) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string) (User, error) {
	now := db.Timestamp(s.now())
	var id string
	err := s.db.QueryRowContext(ctx, `
UPDATE users SET password_hash = ?, password_reset_hash = NULL, password_reset_expires_at = NULL, updated_at = ?
WHERE password_reset_hash = ? AND password_reset_expires_at > ?
RETURNING id;
`, passwordHash, now, tokenHash, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("consume password reset: %w", err)
	}
	return s.FindByID(ctx, id)
}

func (s Store) SetEmailVerificationToken(ctx context.Context, id, tokenHash string) (time.Time, error) {
	now := s.now()
	expiresAt := now.Add(EmailVerifyTTL).UTC()
	err := s.exec(ctx, "set email verification token", `
UPDATE users SET email_verification_hash = ?, email_verification_expires_at = ?, updated_at = ? WHERE id = ?;
`, tokenHash, db.Timestamp(expiresAt), db.Timestamp(now), id)
	return expiresAt, err
}

func (s Store) VerifyEmail(ctx context.Context, tokenHash string) (User, error) {
	now := db.Timestamp(s.now())
	var id string
	err := s.db.QueryRowContext(ctx, `
UPDATE users SET email_verified = 1, email_verification_hash = NULL, email_verification_expires_at = NULL, updated_at = ?
WHERE email_verification_hash = ? AND email_verification_expires_at > ?
RETURNING id;
`, now, tokenHash, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("verify email: %w", err)
	}
	return s.FindByID(ctx, id)
}

// UpsertGoogleUser links a Google subject to the account with the same email,
// creating a verified account when none exists.
func (s Store) UpsertGoogleUser(ctx context.Context, googleSub, email, name string) (User, error) {
	now := db.Timestamp(s.now())
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO users (id, name, email, google_sub, email_verified, theme, default_mode, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
  google_sub = excluded.google_sub,
  email_verified = 1,
  updated_at = excluded.updated_at
RETURNING id;
`, uuid.NewString(), name, email, googleSub, DefaultTheme, DefaultMode, now, now).Scan(&id)
	if err != nil {
		return User{}, fmt.Errorf("upsert google user: %w", err)
	}
	return s.FindByID(ctx, id)
}

// PutSignupOTP replaces any pending code for the email and resets attempts.
func (s Store) PutSignupOTP(ctx context.Context, email, secret string, expiresAt time.Time) error {
	now := db.Timestamp(s.now())
	return s.exec(ctx, "put signup otp", `
INSERT INTO signup_otps (email, otp_secret, otp_expires_at, verified_at, attempts, created_at, updated_at)
VALUES (?, ?, ?, NULL, 0, ?, ?)
ON CONFLICT(email) DO UPDATE SET
  otp_secret = excluded.otp_secret,
  otp_expires_at = excluded.otp_expires_at,
  verified_at = NULL,
  attempts = 0,
  updated_at = excluded.updated_at;
`, NormalizeEmail(email), secret, db.Timestamp(expiresAt), now, now)
}

func (s Store) SignupOTP(ctx context.Context, email string) (SignupOTP, error) {
	var (
		out        SignupOTP
		expiresAt  string
		verifiedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+signupOTPSelectCol+` FROM signup_otps WHERE email = ?;`, NormalizeEmail(email)).
		Scan(&out.Email, &out.Secret, &expiresAt, &verifiedAt, &out.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return SignupOTP{}, ErrOTPMissing
	}
	if err != nil {
		return SignupOTP{}, fmt.Errorf("read signup otp: %w", err)
	}

	if out.ExpiresAt, err = db.ParseTimestamp(expiresAt); err != nil {
		return SignupOTP{}, err
	}
	if out.VerifiedAt, err = parseOptionalTime(verifiedAt); err != nil {
		return SignupOTP{}, err
	}
	return out, nil
}

func (s Store) RecordFailedOTPAttempt(ctx context.Context, email string) error {
	return s.exec(ctx, "record otp attempt", `UPDATE signup_otps SET attempts = attempts + 1, updated_at = ? WHERE email = ?;`, db.Timestamp(s.now()), NormalizeEmail(email))
}

// MarkSignupOTPVerified clears the secret so the code cannot be replayed.
func (s Store) MarkSignupOTPVerified(ctx context.Context, email string, expiresAt time.Time) error {
	now := db.Timestamp(s.now())
	return s.exec(ctx, "mark otp verified", `
UPDATE signup_otps SET otp_secret = NULL, verified_at = ?, attempts = 0, otp_expires_at = ?, updated_at = ? WHERE email = ?;
`, now, db.Timestamp(expiresAt), now, NormalizeEmail(email))
}

func (s Store) DeleteSignupOTP(ctx context.Context, email string) error {
	return s.exec(ctx, "delete signup otp", `DELETE FROM signup_otps WHERE email = ?;`, NormalizeEmail(email))
}

func (s Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		out                  User
		lastLogin            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&out.ID, &out.Name, &out.Email, &out.EmailVerified, &out.Preferences.Theme, &out.Preferences.DefaultMode, &lastLogin, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}

	if out.LastLogin, err = parseOptionalTime(lastLogin); err != nil {
		return User{}, err
	}
	if out.CreatedAt, err = db.ParseTimestamp(createdAt); err != nil {
		return User{}, err
	}
	if out.UpdatedAt, err = db.ParseTimestamp(updatedAt); err != nil {
		return User{}, err
	}
	return out, nil
}

func parseOptionalTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	parsed, err := db.ParseTimestamp(raw.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
