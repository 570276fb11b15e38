package models

import (
	"time"
)

// Message represents an indexed Telegram message.
// Rows are immutable once inserted; crawling never revisits lower ids.
// Unique on (chat_id, topic_id, message_id).
type Message struct {
	ID        int64 `gorm:"primaryKey" json:"-"`
	ChatID    int64 `gorm:"uniqueIndex:idx_chat_topic_msg;index:idx_chat_msg" json:"chat_id"`
	TopicID   int   `gorm:"uniqueIndex:idx_chat_topic_msg" json:"topic_id"`
	MessageID int   `gorm:"uniqueIndex:idx_chat_topic_msg;index:idx_chat_msg" json:"message_id"`

	SenderID int64     `json:"sender_id"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`

	HasMedia  bool   `gorm:"index" json:"has_media"`
	MediaType string `json:"media_type,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
}

// HasContent reports whether the message carries anything worth indexing.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.HasMedia
}
