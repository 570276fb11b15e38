package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/telegrab/telegrab/internal/models"
)

// Search returns ranked full-text matches over message text and file names.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.Message, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	var msgs []models.Message
	err := s.db.WithContext(ctx).Raw(`
		SELECT m.*
		FROM messages m
		JOIN messages_fts f ON f.rowid = m.id
		WHERE messages_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit).Scan(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return msgs, nil
}

// SearchFiles returns media-bearing matches filtered by filename or text,
// newest first. Used by the dashboard file browser.
func (s *Store) SearchFiles(ctx context.Context, query string, limit, offset int) ([]models.Message, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	var msgs []models.Message
	err := s.db.WithContext(ctx).Raw(`
		SELECT m.*
		FROM messages m
		JOIN messages_fts f ON f.rowid = m.id
		WHERE messages_fts MATCH ? AND m.has_media = 1
		ORDER BY m.date DESC
		LIMIT ? OFFSET ?
	`, match, limit, offset).Scan(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("search files %q: %w", query, err)
	}
	return msgs, nil
}

// buildMatchQuery converts free-form user input into an FTS5 MATCH
// expression. Each token is quoted so punctuation cannot be parsed as FTS
// syntax; tokens are implicitly AND-ed.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
