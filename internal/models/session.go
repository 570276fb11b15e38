package models

import (
	"time"
)

// TelegramSession holds the opaque reusable session blob produced by a
// successful login. One row per process (ID is fixed to 1).
type TelegramSession struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	Data      []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TelegramCredentials persists the application credentials so a session can
// be restored after restart without re-running the login flow.
// Kept on logout; only the session blob is cleared.
type TelegramCredentials struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	APIID     int       `json:"api_id"`
	APIHash   string    `json:"-"`
	Phone     string    `json:"phone"`
	UpdatedAt time.Time `json:"updated_at"`
}
