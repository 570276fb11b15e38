// package database provides the embedded sqlite connection and schema setup.
package database

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/telegrab/telegrab/internal/models"
	"github.com/telegrab/telegrab/migrations"
)

// New opens the sqlite database at path, migrates the schema and applies the
// embedded SQL files (full-text index and its sync triggers).
func New(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates the tables and applies the embedded schema files.
// Exposed separately so tests can run against an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Chat{},
		&models.Checkpoint{},
		&models.Message{},
		&models.DownloadRecord{},
		&models.TelegramSession{},
		&models.TelegramCredentials{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return applySchemaFiles(db)
}

// applySchemaFiles executes the embedded .sql files in lexical order.
// Statements use IF NOT EXISTS so re-running is safe.
func applySchemaFiles(db *gorm.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(raw)) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}

	return nil
}

// splitStatements splits a schema file into executable statements.
// Trigger bodies contain semicolons, so splitting is END-aware rather than a
// plain split on ";".
func splitStatements(raw string) []string {
	var stmts []string
	var b strings.Builder
	inTrigger := false

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		b.WriteString(line)
		b.WriteString("\n")

		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "CREATE TRIGGER") {
			inTrigger = true
		}

		if inTrigger {
			if strings.HasPrefix(upper, "END;") {
				stmts = append(stmts, b.String())
				b.Reset()
				inTrigger = false
			}
			continue
		}

		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, b.String())
			b.Reset()
		}
	}

	if s := strings.TrimSpace(b.String()); s != "" {
		stmts = append(stmts, s)
	}

	return stmts
}
