package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aicompare/internal/models"
	"aicompare/internal/storage"
)

// DefaultTTL is the absolute session lifetime. No sliding renewal.
const DefaultTTL = 30 * 24 * time.Hour

// CookieName is the browser cookie carrying the signed session token.
const CookieName = "session_token"

// Service issues, resolves, and destroys durable browser sessions. The cookie
// value is "<token>.<hmac>" so a tampered token never reaches the database.
type Service struct {
	db     *sql.DB
	sql    sq.StatementBuilderType
	secret []byte
	ttl    time.Duration
}

// NewService constructs a session service with the supplied lifetime.
func NewService(db *sql.DB, driver, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		db:     db,
		sql:    storage.Builder(driver),
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Start mints a session for the user and persists it, returning the signed
// cookie value.
func (s *Service) Start(ctx context.Context, user *models.User) (string, error) {
	if user == nil || user.ID <= 0 {
		return "", errors.New("invalid user")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	query, args, err := s.sql.Insert("sessions").
		Columns("token", "user_id", "email", "first_name", "last_name", "created_at", "expires_at").
		Values(token, user.ID, user.Email, user.FirstName, user.LastName, now, now.Add(s.ttl)).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build session insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token + "." + s.sign(token), nil
}

// Resolve maps a cookie value to the stored identity. Missing, tampered, or
// expired sessions yield the anonymous identity without error; only storage
// failures are reported.
func (s *Service) Resolve(ctx context.Context, cookieValue string) (models.Identity, error) {
	token, ok := s.verify(cookieValue)
	if !ok {
		return models.Identity{}, nil
	}

	query, args, err := s.sql.Select("user_id", "email", "first_name", "last_name", "expires_at").
		From("sessions").
		Where(sq.Eq{"token": token}).
		ToSql()
	if err != nil {
		return models.Identity{}, fmt.Errorf("build session lookup: %w", err)
	}

	var identity models.Identity
	var expires time.Time
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&identity.UserID, &identity.Email, &identity.FirstName, &identity.LastName, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Identity{}, nil
		}
		return models.Identity{}, fmt.Errorf("lookup session: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_ = s.deleteToken(ctx, token)
		return models.Identity{}, nil
	}
	return identity, nil
}

// End destroys the session behind the cookie value.
func (s *Service) End(ctx context.Context, cookieValue string) error {
	token, ok := s.verify(cookieValue)
	if !ok {
		return nil
	}
	return s.deleteToken(ctx, token)
}

// TTL reports the configured session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) deleteToken(ctx context.Context, token string) error {
	query, args, err := s.sql.Delete("sessions").Where(sq.Eq{"token": token}).ToSql()
	if err != nil {
		return fmt.Errorf("build session delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

func (s *Service) sign(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify splits and checks a cookie value, returning the bare token.
func (s *Service) verify(cookieValue string) (string, bool) {
	token, sig, found := strings.Cut(cookieValue, ".")
	if !found || token == "" {
		return "", false
	}
	want := s.sign(token)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return token, true
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
