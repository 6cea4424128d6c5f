// Package sqlite provides the SQLite-backed rollbook storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/sebvermaak/rollbook/internal/platform/storage/sqlitemigrate"
	"github.com/sebvermaak/rollbook/internal/storage"
	"github.com/sebvermaak/rollbook/internal/storage/cursor"
	"github.com/sebvermaak/rollbook/internal/storage/filter"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists rollbook state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

// Open opens a SQLite rollbook store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// normalizeLearnerRecord trims learner fields and fills the write timestamps.
func normalizeLearnerRecord(learner storage.LearnerRecord) (storage.LearnerRecord, error) {
	learner.ID = strings.TrimSpace(learner.ID)
	learner.GivenName = strings.TrimSpace(learner.GivenName)
	learner.FamilyName = strings.TrimSpace(learner.FamilyName)
	learner.Grade = strings.TrimSpace(learner.Grade)
	learner.Area = strings.TrimSpace(learner.Area)
	learner.Contact = strings.TrimSpace(learner.Contact)
	learner.BirthDate = strings.TrimSpace(learner.BirthDate)
	if learner.ID == "" {
		return storage.LearnerRecord{}, fmt.Errorf("learner id is required")
	}
	if learner.GivenName == "" {
		return storage.LearnerRecord{}, fmt.Errorf("given name is required")
	}
	if learner.FamilyName == "" {
		return storage.LearnerRecord{}, fmt.Errorf("family name is required")
	}
	createdAt := learner.CreatedAt.UTC()
	updatedAt := learner.UpdatedAt.UTC()
	if createdAt.IsZero() && updatedAt.IsZero() {
		createdAt = time.Now().UTC()
		updatedAt = createdAt
	} else {
		if createdAt.IsZero() {
			createdAt = updatedAt
		}
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
	}
	learner.CreatedAt = createdAt
	learner.UpdatedAt = updatedAt
	return learner, nil
}

// CreateLearner inserts one learner record.
func (s *Store) CreateLearner(ctx context.Context, learner storage.LearnerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	learner, err := normalizeLearnerRecord(learner)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO learners (
		   id, given_name, family_name, grade, area, contact, birth_date,
		   created_at, updated_at, archived_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		learner.ID,
		learner.GivenName,
		learner.FamilyName,
		learner.Grade,
		learner.Area,
		learner.Contact,
		learner.BirthDate,
		toMillis(learner.CreatedAt),
		toMillis(learner.UpdatedAt),
		toNullMillis(learner.ArchivedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create learner: %w", err)
	}
	return nil
}

// GetLearner returns one learner by identifier, archived or not.
func (s *Store) GetLearner(ctx context.Context, id string) (storage.LearnerRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.LearnerRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LearnerRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.LearnerRecord{}, fmt.Errorf("learner id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, given_name, family_name, grade, area, contact, birth_date,
		        created_at, updated_at, archived_at
		   FROM learners
		  WHERE id = ?`,
		id,
	)
	return scanLearner(row.Scan)
}

// UpdateLearner rewrites the mutable fields of one learner record.
func (s *Store) UpdateLearner(ctx context.Context, learner storage.LearnerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	learner, err := normalizeLearnerRecord(learner)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE learners
		    SET given_name = ?, family_name = ?, grade = ?, area = ?,
		        contact = ?, birth_date = ?, updated_at = ?
		  WHERE id = ?`,
		learner.GivenName,
		learner.FamilyName,
		learner.Grade,
		learner.Area,
		learner.Contact,
		learner.BirthDate,
		toMillis(learner.UpdatedAt),
		learner.ID,
	)
	if err != nil {
		return fmt.Errorf("update learner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update learner: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertLearner inserts one learner or rewrites an existing record with the
// same identifier. A conflicting archived learner is reinstated.
func (s *Store) UpsertLearner(ctx context.Context, learner storage.LearnerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	learner, err := normalizeLearnerRecord(learner)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO learners (
		   id, given_name, family_name, grade, area, contact, birth_date,
		   created_at, updated_at, archived_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		 ON CONFLICT(id) DO UPDATE SET
		   given_name = excluded.given_name,
		   family_name = excluded.family_name,
		   grade = excluded.grade,
		   area = excluded.area,
		   contact = excluded.contact,
		   birth_date = excluded.birth_date,
		   updated_at = excluded.updated_at,
		   archived_at = NULL`,
		learner.ID,
		learner.GivenName,
		learner.FamilyName,
		learner.Grade,
		learner.Area,
		learner.Contact,
		learner.BirthDate,
		toMillis(learner.CreatedAt),
		toMillis(learner.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert learner: %w", err)
	}
	return nil
}

// ArchiveLearner marks one active learner as archived.
func (s *Store) ArchiveLearner(ctx context.Context, id string, archivedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("learner id is required")
	}
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE learners
		    SET archived_at = ?, updated_at = ?
		  WHERE id = ? AND archived_at IS NULL`,
		toMillis(archivedAt),
		toMillis(archivedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("archive learner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive learner: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListLearners returns one identifier-ordered page of learner records.
func (s *Store) ListLearners(ctx context.Context, query storage.LearnerQuery) (storage.LearnerPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.LearnerPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LearnerPage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.LearnerPage{}, fmt.Errorf("page size must be greater than zero")
	}

	cond, err := filter.ParseLearnerFilter(query.Filter)
	if err != nil {
		return storage.LearnerPage{}, fmt.Errorf("learner filter: %w", err)
	}

	clauses := make([]string, 0, 3)
	params := make([]any, 0, len(cond.Params)+2)
	if cond.Clause != "" {
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	if !query.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	if token := strings.TrimSpace(query.PageToken); token != "" {
		resume, err := cursor.DecodeLearner(token, query.Filter)
		if err != nil {
			return storage.LearnerPage{}, fmt.Errorf("learner page token: %w", err)
		}
		clauses = append(clauses, "id > ?")
		params = append(params, resume.LastID)
	}

	querySQL := `SELECT id, given_name, family_name, grade, area, contact, birth_date,
	        created_at, updated_at, archived_at
	   FROM learners`
	if len(clauses) > 0 {
		querySQL += " WHERE " + strings.Join(clauses, " AND ")
	}
	querySQL += " ORDER BY id ASC LIMIT ?"
	params = append(params, query.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, querySQL, params...)
	if err != nil {
		return storage.LearnerPage{}, fmt.Errorf("list learners: %w", err)
	}
	defer rows.Close()

	page := storage.LearnerPage{
		Learners: make([]storage.LearnerRecord, 0, query.PageSize),
	}
	for rows.Next() {
		learner, err := scanLearner(rows.Scan)
		if err != nil {
			return storage.LearnerPage{}, fmt.Errorf("list learners: %w", err)
		}
		page.Learners = append(page.Learners, learner)
	}
	if err := rows.Err(); err != nil {
		return storage.LearnerPage{}, fmt.Errorf("list learners: %w", err)
	}
	if len(page.Learners) > query.PageSize {
		token, err := cursor.EncodeLearner(cursor.Learner{
			LastID:     page.Learners[query.PageSize-1].ID,
			FilterHash: cursor.HashFilter(query.Filter),
		})
		if err != nil {
			return storage.LearnerPage{}, fmt.Errorf("encode learner page token: %w", err)
		}
		page.NextPageToken = token
		page.Learners = page.Learners[:query.PageSize]
	}

	return page, nil
}

// CountLearners returns the number of learner rows, archived included.
func (s *Store) CountLearners(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var count int64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM learners`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count learners: %w", err)
	}
	return int(count), nil
}

// scanner receives one row's columns, matching sql.Row.Scan and sql.Rows.Scan.
type scanner func(dest ...any) error

func scanLearner(scan scanner) (storage.LearnerRecord, error) {
	var learner storage.LearnerRecord
	var createdAt int64
	var updatedAt int64
	var archivedAt sql.NullInt64
	err := scan(
		&learner.ID,
		&learner.GivenName,
		&learner.FamilyName,
		&learner.Grade,
		&learner.Area,
		&learner.Contact,
		&learner.BirthDate,
		&createdAt,
		&updatedAt,
		&archivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LearnerRecord{}, storage.ErrNotFound
		}
		return storage.LearnerRecord{}, err
	}
	learner.CreatedAt = fromMillis(createdAt)
	learner.UpdatedAt = fromMillis(updatedAt)
	learner.ArchivedAt = fromNullMillis(archivedAt)
	return learner, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

var _ storage.LearnerStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)
var _ storage.GreetingStore = (*Store)(nil)
