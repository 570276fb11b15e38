// Package store implements the persistent message store: discovered chats,
// crawl checkpoints, indexed messages with a full-text index, and download
// records.
package store

import (
	"gorm.io/gorm"

	"github.com/telegrab/telegrab/internal/logger"
)

// Store provides statement-granular access to the persisted state.
// Each operation is atomic; concurrent readers and writers are safe.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// New creates a store over an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		log: logger.Get(),
	}
}
