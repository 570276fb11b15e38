package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegrab/telegrab/internal/models"
)

// UpsertChat inserts a chat or refreshes its title and access hash.
// The indexing_enabled flag is preserved for known chats so a discovery pass
// never flips a user's toggle.
func (s *Store) UpsertChat(ctx context.Context, chat *models.Chat) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "access_hash", "kind", "updated_at"}),
	}).Create(chat).Error
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", chat.ID, err)
	}
	return nil
}

// GetChat returns a chat by id, or nil if unknown.
func (s *Store) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.WithContext(ctx).First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

// ListChats returns all known chats ordered by title.
func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.db.WithContext(ctx).Order("title").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// ListEnabledChats returns chats with indexing enabled.
func (s *Store) ListEnabledChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Where("indexing_enabled = ?", true).
		Order("id").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled chats: %w", err)
	}
	return chats, nil
}

// IsEnabled reports whether indexing is currently enabled for a chat.
// Unknown chats report false.
func (s *Store) IsEnabled(ctx context.Context, chatID int64) (bool, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	return chat != nil && chat.IndexingEnabled, nil
}

// SetIndexingEnabled flips the per-chat indexing toggle.
func (s *Store) SetIndexingEnabled(ctx context.Context, chatID int64, enabled bool) error {
	res := s.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", chatID).
		Update("indexing_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("set indexing enabled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set indexing enabled: chat %d not found", chatID)
	}
	return nil
}
