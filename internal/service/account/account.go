package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"aicompare/internal/models"
	"aicompare/internal/storage"
)

var (
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

// Service handles the user account lifecycle: signup, login verification,
// and profile updates. Passwords are stored as bcrypt hashes only.
type Service struct {
	db       *sql.DB
	driver   string
	sql      sq.StatementBuilderType
	hashCost int
}

// NewService builds an account service for the given driver.
func NewService(db *sql.DB, driver string) *Service {
	return &Service{
		db:       db,
		driver:   driver,
		sql:      storage.Builder(driver),
		hashCost: bcrypt.DefaultCost,
	}
}

// CreateUser registers a new account. A taken email yields ErrDuplicateEmail
// and leaves the existing record untouched.
func (s *Service) CreateUser(ctx context.Context, email, password, firstName, lastName string) (*models.User, error) {
	email = normalizeEmail(email)
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("a valid email is required")
	}
	if password == "" {
		return nil, errors.New("password is required")
	}
	if firstName == "" || lastName == "" {
		return nil, errors.New("first and last name are required")
	}

	taken, err := s.emailTaken(ctx, email, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	id, err := s.insertUser(ctx, email, string(hash), firstName, lastName, now)
	if err != nil {
		// The uniqueness pre-check races with concurrent signups; the
		// constraint is the backstop.
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    now,
	}, nil
}

// VerifyLogin checks the credentials and returns the account on success.
func (s *Service) VerifyLogin(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.getByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ProfileUpdate carries the editable fields. CurrentPassword is always
// required; NewPassword is optional.
type ProfileUpdate struct {
	Email           string
	FirstName       string
	LastName        string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile verifies the current password and applies the changes,
// returning the updated account.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*models.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(upd.CurrentPassword)) != nil {
		return nil, ErrWrongPassword
	}

	email := normalizeEmail(upd.Email)
	firstName := strings.TrimSpace(upd.FirstName)
	lastName := strings.TrimSpace(upd.LastName)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("a valid email is required")
	}
	if firstName == "" || lastName == "" {
		return nil, errors.New("first and last name are required")
	}

	if email != user.Email {
		taken, err := s.emailTaken(ctx, email, userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateEmail
		}
	}

	update := s.sql.Update("users").
		Set("email", email).
		Set("first_name", firstName).
		Set("last_name", lastName).
		Where(sq.Eq{"id": userID})

	hash := user.PasswordHash
	if upd.NewPassword != "" {
		newHash, err := bcrypt.GenerateFromPassword([]byte(upd.NewPassword), s.hashCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(newHash)
		update = update.Set("password_hash", hash)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build profile update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}

	user.Email = email
	user.FirstName = firstName
	user.LastName = lastName
	user.PasswordHash = hash
	return user, nil
}

// GetUser fetches one account by id.
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query, args, err := s.sql.Select("id", "email", "password_hash", "first_name", "last_name", "created_at").
		From("users").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user lookup: %w", err)
	}
	var user models.User
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *Service) getByEmail(ctx context.Context, email string) (*models.User, error) {
	query, args, err := s.sql.Select("id", "email", "password_hash", "first_name", "last_name", "created_at").
		From("users").
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user lookup: %w", err)
	}
	var user models.User
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *Service) emailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	pred := sq.And{sq.Eq{"email": email}}
	if excludeID > 0 {
		pred = append(pred, sq.NotEq{"id": excludeID})
	}
	query, args, err := s.sql.Select("COUNT(1)").From("users").Where(pred).ToSql()
	if err != nil {
		return false, fmt.Errorf("build email check: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return count > 0, nil
}

func (s *Service) insertUser(ctx context.Context, email, hash, firstName, lastName string, now time.Time) (int64, error) {
	insert := s.sql.Insert("users").
		Columns("email", "password_hash", "first_name", "last_name", "created_at").
		Values(email, hash, firstName, lastName, now)

	// pgx has no LastInsertId; postgres returns the id instead.
	if s.driver == "postgres" || s.driver == "pgx" {
		query, args, err := insert.Suffix("RETURNING id").ToSql()
		if err != nil {
			return 0, fmt.Errorf("build user insert: %w", err)
		}
		var id int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build user insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Unique-constraint violations surface with driver-specific types; string
// matching keeps this working across all three drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
