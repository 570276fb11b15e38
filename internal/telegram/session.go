package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"
	"gorm.io/gorm"

	"github.com/telegrab/telegrab/internal/models"
)

// sessionRowID is the primary key of the single persisted session row.
const sessionRowID = 1

// SessionStore persists the reusable Telegram session blob and the
// application credentials in the database. It implements gotd's
// session.Storage so auth key refreshes are written back automatically.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a session store over a migrated database.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// LoadSession returns the persisted session blob.
// Satisfies gotd session.Storage.
func (s *SessionStore) LoadSession(ctx context.Context) ([]byte, error) {
	var row models.TelegramSession
	err := s.db.WithContext(ctx).First(&row, "id = ?", sessionRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(row.Data) == 0 {
		return nil, session.ErrNotFound
	}
	return row.Data, nil
}

// StoreSession saves the session blob, overwriting any previous one.
// Satisfies gotd session.Storage.
func (s *SessionStore) StoreSession(ctx context.Context, data []byte) error {
	row := models.TelegramSession{
		ID:        sessionRowID,
		Data:      data,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// HasSession reports whether a reusable session blob is persisted.
func (s *SessionStore) HasSession(ctx context.Context) bool {
	data, err := s.LoadSession(ctx)
	return err == nil && len(data) > 0
}

// ClearSession removes only the session blob. Credentials are kept so a
// future login does not need them re-entered.
func (s *SessionStore) ClearSession(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Delete(&models.TelegramSession{}, "id = ?", sessionRowID).Error
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SaveCredentials persists the application credentials for session restores.
func (s *SessionStore) SaveCredentials(ctx context.Context, apiID int, apiHash, phone string) error {
	row := models.TelegramCredentials{
		ID:        sessionRowID,
		APIID:     apiID,
		APIHash:   apiHash,
		Phone:     phone,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// LoadCredentials returns the persisted credentials, or nil if absent.
func (s *SessionStore) LoadCredentials(ctx context.Context) (*models.TelegramCredentials, error) {
	var row models.TelegramCredentials
	err := s.db.WithContext(ctx).First(&row, "id = ?", sessionRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &row, nil
}
