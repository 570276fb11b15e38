package downloads

import (
	"context"
	"fmt"

	"github.com/telegrab/telegrab/internal/models"
	"github.com/telegrab/telegrab/internal/store"
	"github.com/telegrab/telegrab/internal/telegram"
)

// ChunkStream is the byte-chunk iterator a streaming task consumes.
type ChunkStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// MediaSource resolves media descriptors and opens remote byte streams.
type MediaSource interface {
	ResolveMedia(ctx context.Context, chatID int64, messageID int) (*telegram.MediaInfo, error)
	OpenStream(ctx context.Context, media *telegram.MediaInfo, chunkSize int) (ChunkStream, error)
}

// TelegramSource is the production MediaSource: chat lookups through the
// store, message and byte access through the Telegram client.
type TelegramSource struct {
	client *telegram.Client
	store  *store.Store
}

// NewTelegramSource wires the production media source.
func NewTelegramSource(client *telegram.Client, store *store.Store) *TelegramSource {
	return &TelegramSource{client: client, store: store}
}

// ResolveMedia re-fetches the message to obtain a fresh media descriptor
// (file references expire server-side). Fails with telegram.ErrNotFound when
// the message or its media is missing, telegram.ErrUnsupportedMedia when the
// media is not a downloadable document.
func (s *TelegramSource) ResolveMedia(ctx context.Context, chatID int64, messageID int) (*telegram.MediaInfo, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat %d: %w", chatID, telegram.ErrNotFound)
	}

	msg, err := s.client.GetMessage(ctx, chat, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Media == nil {
		return nil, fmt.Errorf("message %d has no media: %w", messageID, telegram.ErrNotFound)
	}
	if !msg.Media.Downloadable {
		return nil, fmt.Errorf("message %d media %q: %w", messageID, msg.Media.Type, telegram.ErrUnsupportedMedia)
	}
	return msg.Media, nil
}

// OpenStream opens the chunked remote byte stream.
func (s *TelegramSource) OpenStream(_ context.Context, media *telegram.MediaInfo, chunkSize int) (ChunkStream, error) {
	return s.client.OpenChunkedDownload(media, chunkSize)
}

// DirectoryResolver supplies target directories for finalized downloads.
type DirectoryResolver interface {
	// Directories returns the default incoming directory and the temp root.
	Directories() (incomingDir, tempDir string)
	// ResolveCategoryPath returns the category-specific target directory,
	// or "" when the record has no mapped category.
	ResolveCategoryPath(rec *models.DownloadRecord) string
}

// RecordStore is the persistence surface the manager needs.
type RecordStore interface {
	GetDownload(ctx context.Context, hash string) (*models.DownloadRecord, error)
	MarkDownloadCompleted(ctx context.Context, hash string) error
	GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error)
}
