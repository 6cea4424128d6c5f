package sqlitemigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const ledgerTable = "schema_migrations"

const upMarker = "-- +migrate Up"
const downMarker = "-- +migrate Down"

// ApplyMigrations executes embedded .sql migrations from migrationRoot in
// lexicographic order, recording each file so it runs at most once.
func ApplyMigrations(sqlDB *sql.DB, migrationFS fs.FS, migrationRoot string) error {
	if sqlDB == nil {
		return fmt.Errorf("sql db is required")
	}

	root := strings.TrimSpace(migrationRoot)
	if root == "" {
		root = "."
	}

	files, err := listMigrationFiles(migrationFS, root)
	if err != nil {
		return err
	}

	if err := ensureLedger(sqlDB); err != nil {
		return err
	}

	for _, file := range files {
		if err := applyOne(sqlDB, migrationFS, root, file); err != nil {
			return err
		}
	}
	return nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section. Content
// without section markers is returned whole.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, downMarker)
	if downIdx == -1 {
		return content[upIdx+len(upMarker):]
	}
	return content[upIdx+len(upMarker) : downIdx]
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

func listMigrationFiles(migrationFS fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func ensureLedger(sqlDB *sql.DB) error {
	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, ledgerTable)
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func applyOne(sqlDB *sql.DB, migrationFS fs.FS, root, file string) error {
	key := file
	if root != "." {
		key = path.Join(root, file)
	}

	applied, err := isApplied(sqlDB, key)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", file, err)
	}
	if applied {
		return nil
	}

	content, err := fs.ReadFile(migrationFS, path.Join(root, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	upSQL := ExtractUpMigration(string(content))
	if strings.TrimSpace(upSQL) == "" {
		return nil
	}

	tx, err := sqlDB.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction %s: %w", file, err)
	}

	if _, err := tx.Exec(upSQL); err != nil {
		if !IsAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
	}

	if _, err := tx.Exec(
		fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", ledgerTable),
		key,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func isApplied(sqlDB *sql.DB, name string) (bool, error) {
	var found int
	row := sqlDB.QueryRow("SELECT 1 FROM "+ledgerTable+" WHERE name = ?", name)
	err := row.Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
