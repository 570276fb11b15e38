// Package publisher bridges crawl and download events onto NATS subjects.
package publisher

import (
	"context"

	"github.com/telegrab/telegrab/internal/downloads"
	"github.com/telegrab/telegrab/internal/indexer"
)

// Subjects carried by the telegrab stream.
const (
	SubjectChatCrawled       = "telegrab.index.chat_crawled"
	SubjectDownloadCompleted = "telegrab.downloads.completed"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher implements indexer.EventPublisher and
// downloads.EventPublisher over one jetstream connection.
type NATSPublisher struct {
	client NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{client: client}
}

// PublishChatCrawled publishes a per-chat crawl summary.
func (p *NATSPublisher) PublishChatCrawled(ctx context.Context, event indexer.ChatCrawledEvent) error {
	return p.client.Publish(ctx, SubjectChatCrawled, event)
}

// PublishDownloadCompleted publishes a finalized download.
func (p *NATSPublisher) PublishDownloadCompleted(ctx context.Context, event downloads.DownloadCompletedEvent) error {
	return p.client.Publish(ctx, SubjectDownloadCompleted, event)
}
