// Package indexer orchestrates conversation discovery and incremental,
// checkpointed crawling of every enabled chat.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/models"
	"github.com/telegrab/telegrab/internal/telegram"
)

// Crawl constants. Flood waits add one second of slack on top of the
// server-specified duration.
const (
	defaultBatchSize  = 50
	defaultRetryLimit = 5
	defaultRetryDelay = 2 * time.Second
	defaultPoliteness = 1 * time.Second
	floodWaitSlack    = 1 * time.Second
)

// TelegramClient defines the remote operations the indexer needs.
type TelegramClient interface {
	ListDialogs(ctx context.Context) ([]telegram.Dialog, error)
	FetchMessages(ctx context.Context, chat *models.Chat, minID, limit int) ([]telegram.MessageInfo, error)
}

// Store defines the persistence operations the indexer needs.
type Store interface {
	UpsertChat(ctx context.Context, chat *models.Chat) error
	ListEnabledChats(ctx context.Context) ([]models.Chat, error)
	IsEnabled(ctx context.Context, chatID int64) (bool, error)
	GetCheckpoint(ctx context.Context, chatID int64, topicID int) (int, error)
	AdvanceCheckpoint(ctx context.Context, chatID int64, topicID, newLast int) error
	InsertMessages(ctx context.Context, batch []models.Message) error
}

// EventPublisher publishes crawl events. Optional.
type EventPublisher interface {
	PublishChatCrawled(ctx context.Context, event ChatCrawledEvent) error
}

// ChatCrawledEvent summarizes one chat's crawl within a cycle.
type ChatCrawledEvent struct {
	ChatID      int64     `json:"chat_id"`
	Title       string    `json:"title"`
	NewMessages int       `json:"new_messages"`
	Checkpoint  int       `json:"checkpoint"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// Indexer runs full crawl cycles. At most one cycle runs at a time;
// re-entrant calls while a cycle is active are no-ops.
type Indexer struct {
	client    TelegramClient
	store     Store
	publisher EventPublisher
	log       *logger.Logger

	interval   time.Duration
	batchSize  int
	retryLimit int
	retryDelay time.Duration
	politeness time.Duration

	// sleep is replaceable in tests; production uses a ctx-aware wait.
	sleep func(ctx context.Context, d time.Duration) error

	cycleRunning atomic.Bool
	loopRunning  atomic.Bool
}

// New creates an indexer with the fixed crawl policy.
// publisher may be nil to disable events.
func New(client TelegramClient, store Store, publisher EventPublisher, interval time.Duration) *Indexer {
	return &Indexer{
		client:     client,
		store:      store,
		publisher:  publisher,
		log:        logger.Get(),
		interval:   interval,
		batchSize:  defaultBatchSize,
		retryLimit: defaultRetryLimit,
		retryDelay: defaultRetryDelay,
		politeness: defaultPoliteness,
		sleep:      ctxSleep,
	}
}

// Start launches the background indexing loop: run a cycle, wait the
// interval, repeat. Idempotent; the second and later calls are no-ops while
// the loop is alive. Cancelling ctx stops the loop deterministically,
// including a pending next-cycle wait.
func (ix *Indexer) Start(ctx context.Context) {
	if !ix.loopRunning.CompareAndSwap(false, true) {
		ix.log.Debug().Msg("indexer: loop already running")
		return
	}

	go func() {
		defer ix.loopRunning.Store(false)
		ix.log.Info().Dur("interval", ix.interval).Msg("indexer: loop started")

		for {
			if err := ix.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				ix.log.Error().Err(err).Msg("indexer: cycle failed")
			}

			select {
			case <-ctx.Done():
				ix.log.Info().Msg("indexer: loop stopped")
				return
			case <-time.After(ix.interval):
			}
		}
	}()
}

// RunCycle performs a single full crawl cycle: discover conversations, then
// crawl each enabled chat sequentially. A chat's failure aborts only that
// chat's crawl for this cycle.
func (ix *Indexer) RunCycle(ctx context.Context) error {
	if !ix.cycleRunning.CompareAndSwap(false, true) {
		ix.log.Debug().Msg("indexer: cycle already in progress")
		return nil
	}
	defer ix.cycleRunning.Store(false)

	if err := ix.discover(ctx); err != nil {
		return fmt.Errorf("discover conversations: %w", err)
	}

	chats, err := ix.store.ListEnabledChats(ctx)
	if err != nil {
		return err
	}

	for i := range chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chat := chats[i]
		if err := ix.crawlChat(ctx, &chat); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			ix.log.Error().Err(err).
				Int64("chat_id", chat.ID).
				Str("title", chat.Title).
				Msg("indexer: chat crawl aborted for this cycle")
		}
	}

	return nil
}

// discover enumerates visible conversations and upserts a chat row for each.
// Titles refresh on every pass; newly discovered chats start with indexing
// disabled until a user enables them.
func (ix *Indexer) discover(ctx context.Context) error {
	dialogs, err := ix.fetchDialogsWithRetry(ctx)
	if err != nil {
		return err
	}

	for _, d := range dialogs {
		chat := &models.Chat{
			ID:         d.ID,
			AccessHash: d.AccessHash,
			Title:      d.Title,
			Kind:       d.Kind,
		}
		if err := ix.store.UpsertChat(ctx, chat); err != nil {
			return err
		}
	}

	ix.log.Info().Int("count", len(dialogs)).Msg("indexer: conversations discovered")
	return nil
}

// crawlChat drains one chat from its checkpoint to the current head.
func (ix *Indexer) crawlChat(ctx context.Context, chat *models.Chat) error {
	lastID, err := ix.store.GetCheckpoint(ctx, chat.ID, 0)
	if err != nil {
		return err
	}

	total := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := ix.fetchWithRetry(ctx, chat, lastID)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break // caught up
		}

		maxID := lastID
		rows := make([]models.Message, 0, len(batch))
		for _, m := range batch {
			if m.ID > maxID {
				maxID = m.ID
			}
			row := buildRow(chat.ID, m)
			if !row.HasContent() {
				continue
			}
			rows = append(rows, row)
		}

		// write-then-commit ordering: rows must be durable before the
		// checkpoint moves past them.
		if err := ix.store.InsertMessages(ctx, rows); err != nil {
			return err
		}
		// The checkpoint advances to the max id seen even when the whole
		// batch was skipped, so a run of dead messages cannot stall the
		// crawl forever.
		if err := ix.store.AdvanceCheckpoint(ctx, chat.ID, 0, maxID); err != nil {
			return err
		}
		lastID = maxID
		total += len(rows)

		if len(batch) < ix.batchSize {
			break // caught up
		}

		enabled, err := ix.store.IsEnabled(ctx, chat.ID)
		if err == nil && !enabled {
			ix.log.Info().Int64("chat_id", chat.ID).Msg("indexer: chat disabled mid-crawl, stopping")
			break
		}

		if err := ix.sleep(ctx, ix.politeness); err != nil {
			return err
		}
	}

	if total > 0 {
		ix.log.Info().
			Int64("chat_id", chat.ID).
			Str("title", chat.Title).
			Int("new_messages", total).
			Int("checkpoint", lastID).
			Msg("indexer: chat crawled")
	}

	if ix.publisher != nil && total > 0 {
		event := ChatCrawledEvent{
			ChatID:      chat.ID,
			Title:       chat.Title,
			NewMessages: total,
			Checkpoint:  lastID,
			CrawledAt:   time.Now(),
		}
		if err := ix.publisher.PublishChatCrawled(ctx, event); err != nil {
			ix.log.Warn().Err(err).Msg("indexer: failed to publish crawl event")
		}
	}

	return nil
}

// fetchWithRetry fetches one batch, honoring flood waits (mandatory sleep of
// wait+1s, retried without consuming an attempt) and retrying other
// transient errors up to the fixed bound with a fixed delay.
func (ix *Indexer) fetchWithRetry(ctx context.Context, chat *models.Chat, lastID int) ([]telegram.MessageInfo, error) {
	attempts := 0
	for {
		batch, err := ix.client.FetchMessages(ctx, chat, lastID, ix.batchSize)
		if err == nil {
			return batch, nil
		}

		if wait, ok := telegram.AsFloodWait(err); ok {
			wait += floodWaitSlack
			ix.log.Warn().
				Int64("chat_id", chat.ID).
				Dur("wait", wait).
				Msg("indexer: rate limited, sleeping before retry")
			if err := ix.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		attempts++
		if attempts >= ix.retryLimit {
			return nil, fmt.Errorf("fetch messages after %d attempts: %w", attempts, err)
		}
		ix.log.Warn().Err(err).
			Int64("chat_id", chat.ID).
			Int("attempt", attempts).
			Msg("indexer: transient fetch error, retrying")
		if err := ix.sleep(ctx, ix.retryDelay); err != nil {
			return nil, err
		}
	}
}

// fetchDialogsWithRetry applies the same retry policy to discovery.
func (ix *Indexer) fetchDialogsWithRetry(ctx context.Context) ([]telegram.Dialog, error) {
	attempts := 0
	for {
		dialogs, err := ix.client.ListDialogs(ctx)
		if err == nil {
			return dialogs, nil
		}

		if wait, ok := telegram.AsFloodWait(err); ok {
			if err := ix.sleep(ctx, wait+floodWaitSlack); err != nil {
				return nil, err
			}
			continue
		}

		attempts++
		if attempts >= ix.retryLimit {
			return nil, fmt.Errorf("list dialogs after %d attempts: %w", attempts, err)
		}
		if err := ix.sleep(ctx, ix.retryDelay); err != nil {
			return nil, err
		}
	}
}

// buildRow converts a fetched message to a storable row.
func buildRow(chatID int64, m telegram.MessageInfo) models.Message {
	row := models.Message{
		ChatID:    chatID,
		TopicID:   m.TopicID,
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Date:      m.Date,
		Text:      m.Text,
	}
	if m.Media != nil {
		row.HasMedia = true
		row.MediaType = m.Media.Type
		row.FileName = m.Media.FileName
		row.FileSize = m.Media.Size
	}
	return row
}

// ctxSleep waits for d or until ctx is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
