package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"aicompare/internal/models"
	"aicompare/internal/storage"
)

var ErrNotFound = errors.New("query not found")

// Service records completed dispatch runs and serves them back to their
// owner. The queries table holds one response column per configured model
// alias, so the service is constructed with the ordered alias list.
type Service struct {
	db      *sql.DB
	driver  string
	sql     sq.StatementBuilderType
	aliases []string
}

func NewService(db *sql.DB, driver string, aliases []string) *Service {
	return &Service{
		db:      db,
		driver:  driver,
		sql:     storage.Builder(driver),
		aliases: aliases,
	}
}

// Insert writes one completed run for the owning user. Every configured
// alias must be present in responses.
func (s *Service) Insert(ctx context.Context, userID int64, prompt string, responses map[string]string, comparison string) (*models.QueryRecord, error) {
	if userID <= 0 {
		return nil, errors.New("user id is required")
	}
	for _, alias := range s.aliases {
		if _, ok := responses[alias]; !ok {
			return nil, fmt.Errorf("missing response for model %q", alias)
		}
	}

	now := time.Now().UTC()
	columns := []string{"user_id", "query_text"}
	values := []any{userID, prompt}
	for _, alias := range s.aliases {
		columns = append(columns, storage.ResponseColumn(alias))
		values = append(values, responses[alias])
	}
	columns = append(columns, "comparison_result", "created_at")
	values = append(values, comparison, now)

	insert := s.sql.Insert("queries").Columns(columns...).Values(values...)

	id, err := s.insertID(ctx, insert)
	if err != nil {
		return nil, fmt.Errorf("insert query record: %w", err)
	}

	stored := make(map[string]string, len(s.aliases))
	for _, alias := range s.aliases {
		stored[alias] = responses[alias]
	}
	return &models.QueryRecord{
		ID:         id,
		UserID:     userID,
		QueryText:  prompt,
		Responses:  stored,
		Comparison: comparison,
		CreatedAt:  now,
	}, nil
}

// ListRecent returns the user's runs, most recent first.
func (s *Service) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.QueryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query, args, err := s.sql.Select(s.selectColumns()...).
		From("queries").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent queries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	var records []*models.QueryRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByID fetches one run scoped to the requesting user. An id owned by a
// different user is ErrNotFound, not a leak.
func (s *Service) GetByID(ctx context.Context, userID, id int64) (*models.QueryRecord, error) {
	query, args, err := s.sql.Select(s.selectColumns()...).
		From("queries").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query lookup: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get query: %w", err)
		}
		return nil, ErrNotFound
	}
	return s.scanRecord(rows)
}

func (s *Service) selectColumns() []string {
	columns := []string{"id", "user_id", "query_text"}
	for _, alias := range s.aliases {
		columns = append(columns, storage.ResponseColumn(alias))
	}
	return append(columns, "comparison_result", "created_at")
}

func (s *Service) scanRecord(rows *sql.Rows) (*models.QueryRecord, error) {
	rec := &models.QueryRecord{Responses: make(map[string]string, len(s.aliases))}
	var userID sql.NullInt64
	responses := make([]sql.NullString, len(s.aliases))

	dest := []any{&rec.ID, &userID, &rec.QueryText}
	for i := range responses {
		dest = append(dest, &responses[i])
	}
	dest = append(dest, &rec.Comparison, &rec.CreatedAt)

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan query record: %w", err)
	}
	rec.UserID = userID.Int64
	for i, alias := range s.aliases {
		rec.Responses[alias] = responses[i].String
	}
	return rec, nil
}

func (s *Service) insertID(ctx context.Context, insert sq.InsertBuilder) (int64, error) {
	if s.driver == "postgres" || s.driver == "pgx" {
		query, args, err := insert.Suffix("RETURNING id").ToSql()
		if err != nil {
			return 0, fmt.Errorf("build insert: %w", err)
		}
		var id int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
