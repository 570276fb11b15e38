package models

import (
	"time"
)

// DownloadRecord is the persisted trace of a user-requested download.
// Hash is the external identity key shared with the dashboard.
type DownloadRecord struct {
	Hash         string    `gorm:"primaryKey" json:"hash"`
	FileName     string    `json:"file_name"`
	Size         int64     `json:"size"`
	Provider     string    `json:"provider"`
	CategoryName string    `json:"category_name,omitempty"`
	AddedAt      time.Time `json:"added_at"`
	IsCompleted  bool      `json:"is_completed"`
}
