// Package models defines shared data types for the application.
package models

import (
	"time"
)

// ChatKind represents the type of a Telegram conversation.
type ChatKind string

// ChatKind constants define the indexable conversation types.
const (
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
	ChatKindGeneric ChatKind = "generic"
)

// Chat represents a discovered Telegram conversation.
// ID and Kind are stable keys; Title is refreshed on every discovery pass.
type Chat struct {
	ID              int64    `gorm:"primaryKey" json:"id"`
	AccessHash      int64    `json:"-"`
	Title           string   `json:"title"`
	Kind            ChatKind `json:"kind"`
	IndexingEnabled bool     `json:"indexing_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint holds the crawl resume point for a (chat, topic) pair.
// LastMessageID is monotonically non-decreasing per key.
type Checkpoint struct {
	ChatID        int64 `gorm:"primaryKey;autoIncrement:false" json:"chat_id"`
	TopicID       int   `gorm:"primaryKey;autoIncrement:false" json:"topic_id"`
	LastMessageID int   `json:"last_message_id"`

	UpdatedAt time.Time `json:"updated_at"`
}
