package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"aicompare/internal/storage"
)

var testAliases = []string{"gemini", "llama", "deepseek"}

func TestInsertAndGetByID(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3", testAliases)
	userID := insertUser(t, db, "alice@example.com")

	responses := map[string]string{
		"gemini":   "answer one",
		"llama":    "answer two",
		"deepseek": "answer three",
	}
	rec, err := svc.Insert(context.Background(), userID, "what is a monad", responses, "they differ")
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if rec.ID <= 0 {
		t.Fatalf("expected positive record id")
	}

	got, err := svc.GetByID(context.Background(), userID, rec.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.QueryText != "what is a monad" {
		t.Fatalf("query text mismatch: %q", got.QueryText)
	}
	if got.Comparison != "they differ" {
		t.Fatalf("comparison mismatch: %q", got.Comparison)
	}
	for alias, want := range responses {
		if got.Responses[alias] != want {
			t.Fatalf("response %s mismatch: %q", alias, got.Responses[alias])
		}
	}
}

func TestInsertRejectsMissingResponse(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3", testAliases)
	userID := insertUser(t, db, "bob@example.com")

	_, err := svc.Insert(context.Background(), userID, "q", map[string]string{"gemini": "only one"}, "c")
	if err == nil {
		t.Fatalf("expected error for missing responses")
	}
}

func TestListRecentOrdering(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3", testAliases)
	userID := insertUser(t, db, "carol@example.com")

	responses := map[string]string{"gemini": "a", "llama": "b", "deepseek": "c"}
	var ids []int64
	for _, q := range []string{"first", "second", "third"} {
		rec, err := svc.Insert(context.Background(), userID, q, responses, "cmp")
		if err != nil {
			t.Fatalf("Insert %q: %v", q, err)
		}
		ids = append(ids, rec.ID)
	}

	records, err := svc.ListRecent(context.Background(), userID, 2)
	if err != nil {
		t.Fatalf("ListRecent error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != ids[2] || records[1].ID != ids[1] {
		t.Fatalf("wrong order: got ids %d, %d", records[0].ID, records[1].ID)
	}
}

func TestGetByIDScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, "sqlite3", testAliases)
	owner := insertUser(t, db, "owner@example.com")
	other := insertUser(t, db, "other@example.com")

	responses := map[string]string{"gemini": "a", "llama": "b", "deepseek": "c"}
	rec, err := svc.Insert(context.Background(), owner, "private question", responses, "cmp")
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	if _, err := svc.GetByID(context.Background(), other, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign record, got %v", err)
	}
	if _, err := svc.GetByID(context.Background(), owner, rec.ID+999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3", testAliases); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (email, password_hash, first_name, last_name, created_at) VALUES (?, '', 'Test', 'User', ?)`,
		email, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	return id
}
