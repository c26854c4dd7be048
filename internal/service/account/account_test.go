package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"aicompare/internal/storage"
)

func TestCreateUserHashesPassword(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	user, err := svc.CreateUser(context.Background(), "Alice@Example.com", "s3cret", "Alice", "Smith")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if user.ID <= 0 {
		t.Fatalf("expected positive user id, got %d", user.ID)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Fatalf("password stored without hashing")
	}

	var stored string
	if err := db.QueryRow(`SELECT password_hash FROM users WHERE id = ?`, user.ID).Scan(&stored); err != nil {
		t.Fatalf("query hash: %v", err)
	}
	if stored == "s3cret" {
		t.Fatalf("plaintext password in database")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	first, err := svc.CreateUser(context.Background(), "bob@example.com", "pw1", "Bob", "Jones")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), "BOB@example.com", "pw2", "Robert", "Jones"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	// The original account must be untouched.
	got, err := svc.GetUser(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if got.FirstName != "Bob" {
		t.Fatalf("existing record modified: first name %q", got.FirstName)
	}
	if _, err := svc.VerifyLogin(context.Background(), "bob@example.com", "pw1"); err != nil {
		t.Fatalf("original credentials stopped working: %v", err)
	}
}

func TestVerifyLogin(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	if _, err := svc.CreateUser(context.Background(), "carol@example.com", "topsecret", "Carol", "Lee"); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	user, err := svc.VerifyLogin(context.Background(), "carol@example.com", "topsecret")
	if err != nil {
		t.Fatalf("VerifyLogin error: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Fatalf("unexpected user %q", user.Email)
	}

	if _, err := svc.VerifyLogin(context.Background(), "carol@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.VerifyLogin(context.Background(), "nobody@example.com", "topsecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUpdateProfileRequiresCurrentPassword(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	user, err := svc.CreateUser(context.Background(), "dave@example.com", "original", "Dave", "Kim")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	_, err = svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{
		Email:           "dave@example.com",
		FirstName:       "David",
		LastName:        "Kim",
		CurrentPassword: "wrong",
	})
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}

	got, err := svc.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if got.FirstName != "Dave" {
		t.Fatalf("profile changed despite wrong password")
	}
}

func TestUpdateProfileChangesPassword(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	user, err := svc.CreateUser(context.Background(), "erin@example.com", "oldpw", "Erin", "Wu")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	updated, err := svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{
		Email:           "erin@new.example.com",
		FirstName:       "Erin",
		LastName:        "Wu",
		CurrentPassword: "oldpw",
		NewPassword:     "newpw",
	})
	if err != nil {
		t.Fatalf("UpdateProfile error: %v", err)
	}
	if updated.Email != "erin@new.example.com" {
		t.Fatalf("email not updated: %q", updated.Email)
	}

	if _, err := svc.VerifyLogin(context.Background(), "erin@new.example.com", "newpw"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
	if _, err := svc.VerifyLogin(context.Background(), "erin@new.example.com", "oldpw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted")
	}
}

func TestUpdateProfileDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3")
	if _, err := svc.CreateUser(context.Background(), "taken@example.com", "pw", "First", "User"); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	user, err := svc.CreateUser(context.Background(), "second@example.com", "pw", "Second", "User")
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	_, err = svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{
		Email:           "taken@example.com",
		FirstName:       "Second",
		LastName:        "User",
		CurrentPassword: "pw",
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3", []string{"gemini", "llama", "deepseek"}); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}
