package telegram

import (
	"time"

	"github.com/telegrab/telegrab/internal/models"
)

// Dialog represents a discovered conversation.
// Direct-user conversations are never surfaced, only groups and channels.
type Dialog struct {
	ID         int64           // stable external identifier
	AccessHash int64           // access hash for api calls (0 for basic groups)
	Title      string          // current conversation title
	Kind       models.ChatKind // group, channel or generic
}

// MessageInfo represents a fetched message.
type MessageInfo struct {
	ID       int        // message id (unique within chat)
	SenderID int64      // sending user id (0 for anonymous/channel posts)
	Date     time.Time  // message creation timestamp
	Text     string     // message text content
	TopicID  int        // forum topic id (0 for the default topic)
	Media    *MediaInfo // attached media (nil when absent)
}

// MediaInfo describes attached media. Only documents are downloadable;
// other media kinds are indexed but rejected by the download path.
type MediaInfo struct {
	DocumentID    int64  // document id
	AccessHash    int64  // access hash for upload.getFile
	FileReference []byte // short-lived server file reference
	Size          int64  // total size in bytes
	Type          string // mime type, or "photo" for photos
	FileName      string // original file name (may be empty)
	Downloadable  bool   // true only for documents
}
