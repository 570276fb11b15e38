package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegrab/telegrab/internal/models"
)

// InsertMessages stores a crawled batch. Rows already present by their
// (chat, topic, message) key are silently kept, not duplicated or errored,
// so replaying a batch after a checkpoint failure is safe.
func (s *Store) InsertMessages(ctx context.Context, batch []models.Message) error {
	if len(batch) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "topic_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(&batch).Error
	if err != nil {
		return fmt.Errorf("insert %d messages: %w", len(batch), err)
	}
	return nil
}

// GetMessage returns a single indexed message, or nil if unknown.
func (s *Store) GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		First(&msg, "chat_id = ? AND message_id = ?", chatID, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message (%d,%d): %w", chatID, messageID, err)
	}
	return &msg, nil
}

// GetContext returns the messages surrounding messageID in the same chat and
// topic, ordered by message id. Window is the number of neighbors on each side.
func (s *Store) GetContext(ctx context.Context, chatID int64, messageID, window int) ([]models.Message, error) {
	anchor, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}

	var msgs []models.Message
	err = s.db.WithContext(ctx).
		Where("chat_id = ? AND topic_id = ? AND message_id BETWEEN ? AND ?",
			chatID, anchor.TopicID, messageID-window, messageID+window).
		Order("message_id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("get context (%d,%d): %w", chatID, messageID, err)
	}
	return msgs, nil
}

// CountMessages returns the number of indexed rows for a chat.
func (s *Store) CountMessages(ctx context.Context, chatID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
