package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegrab/telegrab/internal/models"
)

// GetCheckpoint returns the last processed message id for a (chat, topic)
// pair, or 0 if the pair has never been crawled.
func (s *Store) GetCheckpoint(ctx context.Context, chatID int64, topicID int) (int, error) {
	var cp models.Checkpoint
	err := s.db.WithContext(ctx).
		First(&cp, "chat_id = ? AND topic_id = ?", chatID, topicID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint (%d,%d): %w", chatID, topicID, err)
	}
	return cp.LastMessageID, nil
}

// AdvanceCheckpoint moves the crawl resume point forward. The upsert is
// idempotent and never decreases the stored id, so replays after partial
// failures are harmless.
func (s *Store) AdvanceCheckpoint(ctx context.Context, chatID int64, topicID int, newLast int) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_id"}, {Name: "topic_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_message_id": gorm.Expr("MAX(last_message_id, excluded.last_message_id)"),
			"updated_at":      gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&models.Checkpoint{
		ChatID:        chatID,
		TopicID:       topicID,
		LastMessageID: newLast,
	}).Error
	if err != nil {
		return fmt.Errorf("advance checkpoint (%d,%d) to %d: %w", chatID, topicID, newLast, err)
	}
	return nil
}
