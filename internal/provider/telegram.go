package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telegrab/telegrab/internal/downloads"
	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/models"
)

// linkScheme prefixes links the Telegram adapter claims:
// telegram://<chatID>/<messageID>.
const linkScheme = "telegram://"

// searchResultCap bounds how many rows one search pulls from the index.
const searchResultCap = 200

// SearchStore is the slice of the message store the adapter searches over.
type SearchStore interface {
	SearchFiles(ctx context.Context, query string, limit, offset int) ([]models.Message, error)
	GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error)
	CreateDownload(ctx context.Context, rec *models.DownloadRecord) error
	ListDownloads(ctx context.Context) ([]models.DownloadRecord, error)
	DeleteDownload(ctx context.Context, hash string) error
	DeleteCompletedDownloads(ctx context.Context) ([]string, error)
}

// Downloader is the slice of the download manager the adapter drives.
type Downloader interface {
	StartDownload(ctx context.Context, chatID int64, messageID int, hash string) error
	PauseDownload(hash string)
	ResumeDownload(hash string)
	CancelDownload(hash string)
	RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error
	GetDownloadStatus(ctx context.Context, hash string) *downloads.Status
	ActiveStatuses() []downloads.Status
	ForgetCompleted(hashes []string)
}

// search is the in-memory state of one asynchronous search.
type search struct {
	results []SearchResult
	done    bool
	err     error
}

// TelegramProvider adapts the indexed message archive and the download
// manager to the uniform provider contract.
type TelegramProvider struct {
	store    SearchStore
	manager  Downloader
	log      *logger.Logger
	mu       sync.Mutex
	searches map[string]*search
}

// NewTelegramProvider wires the adapter.
func NewTelegramProvider(store SearchStore, manager Downloader) *TelegramProvider {
	return &TelegramProvider{
		store:    store,
		manager:  manager,
		log:      logger.Get(),
		searches: make(map[string]*search),
	}
}

func (p *TelegramProvider) Name() string { return "telegram" }

// CanHandleDownload claims telegram:// links and tg- transfer hashes.
func (p *TelegramProvider) CanHandleDownload(link string) bool {
	if strings.HasPrefix(link, linkScheme) {
		_, _, err := parseLink(link)
		return err == nil
	}
	return downloads.IsHash(link)
}

// AddDownload records the request and launches the streaming task. The link
// is either telegram://<chatID>/<messageID> or an existing tg- hash.
func (p *TelegramProvider) AddDownload(ctx context.Context, link, category string) (string, error) {
	chatID, messageID, err := parseLink(link)
	if err != nil {
		return "", err
	}
	hash := downloads.MakeHash(chatID, messageID)

	msg, err := p.store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return "", err
	}
	if msg == nil || !msg.HasMedia {
		return "", fmt.Errorf("message %d/%d has no downloadable media", chatID, messageID)
	}

	name := msg.FileName
	if name == "" {
		name = hash
	}
	rec := &models.DownloadRecord{
		Hash:         hash,
		FileName:     name,
		Size:         msg.FileSize,
		Provider:     p.Name(),
		CategoryName: category,
		AddedAt:      time.Now(),
	}
	if err := p.store.CreateDownload(ctx, rec); err != nil {
		return "", err
	}

	if err := p.manager.StartDownload(ctx, chatID, messageID, hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (p *TelegramProvider) PauseDownload(ctx context.Context, hash string) error {
	p.manager.PauseDownload(hash)
	return nil
}

func (p *TelegramProvider) ResumeDownload(ctx context.Context, hash string) error {
	p.manager.ResumeDownload(hash)
	return nil
}

func (p *TelegramProvider) StopDownload(ctx context.Context, hash string) error {
	p.manager.CancelDownload(hash)
	return nil
}

func (p *TelegramProvider) RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error {
	if err := p.manager.RemoveDownload(ctx, hash, deleteFiles); err != nil {
		return err
	}
	return p.store.DeleteDownload(ctx, hash)
}

// StartSearch launches an asynchronous query over the indexed archive and
// returns its handle immediately.
func (p *TelegramProvider) StartSearch(ctx context.Context, query string) (string, error) {
	id := uuid.NewString()

	p.mu.Lock()
	p.searches[id] = &search{}
	p.mu.Unlock()

	// The search outlives the caller's request context.
	go p.runSearch(context.Background(), id, query)
	return id, nil
}

func (p *TelegramProvider) runSearch(ctx context.Context, id, query string) {
	msgs, err := p.store.SearchFiles(ctx, query, searchResultCap, 0)

	results := make([]SearchResult, 0, len(msgs))
	for _, m := range msgs {
		title := m.FileName
		if title == "" {
			title = m.Text
		}
		results = append(results, SearchResult{
			Title:    title,
			Link:     MakeLink(m.ChatID, m.MessageID),
			FileName: m.FileName,
			Size:     m.FileSize,
			Date:     m.Date,
			Provider: p.Name(),
		})
	}

	p.mu.Lock()
	if s, ok := p.searches[id]; ok {
		s.results = results
		s.err = err
		s.done = true
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Error().Err(err).Str("search_id", id).Msg("provider: telegram search failed")
	}
}

func (p *TelegramProvider) GetSearchResults(ctx context.Context, id string, limit, offset int) ([]SearchResult, error) {
	p.mu.Lock()
	s, ok := p.searches[id]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("unknown search %s", id)
	}
	results, err := s.results, s.err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if offset >= len(results) {
		return nil, nil
	}
	end := len(results)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return results[offset:end], nil
}

func (p *TelegramProvider) GetSearchStatus(ctx context.Context, id string) (*SearchStatus, error) {
	p.mu.Lock()
	s, ok := p.searches[id]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("unknown search %s", id)
	}
	status := &SearchStatus{ID: id, Total: len(s.results)}
	if s.done {
		status.Progress = 100
	}
	p.mu.Unlock()
	return status, nil
}

// GetTransfers merges persisted download records with live manager state.
// After a restart, records with no live entry degrade to "completed" or
// "stopped" according to the persisted flag.
func (p *TelegramProvider) GetTransfers(ctx context.Context) ([]Transfer, error) {
	recs, err := p.store.ListDownloads(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[string]downloads.Status)
	for _, s := range p.manager.ActiveStatuses() {
		live[s.Hash] = s
	}

	transfers := make([]Transfer, 0, len(recs))
	for _, r := range recs {
		t := Transfer{
			Hash:     r.Hash,
			Name:     r.FileName,
			Size:     r.Size,
			Category: r.CategoryName,
			Provider: p.Name(),
			AddedAt:  r.AddedAt,
		}
		switch s, ok := live[r.Hash]; {
		case ok:
			t.State = s.State
			t.Downloaded = s.Downloaded
			t.Speed = s.Speed
			if s.Size > 0 {
				t.Size = s.Size
			}
		case r.IsCompleted:
			t.State = downloads.StateCompleted
			t.Downloaded = r.Size
		default:
			t.State = downloads.StateStopped
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

// ClearCompletedTransfers drops completed records and the matching
// in-memory entries.
func (p *TelegramProvider) ClearCompletedTransfers(ctx context.Context) error {
	hashes, err := p.store.DeleteCompletedDownloads(ctx)
	if err != nil {
		return err
	}
	p.manager.ForgetCompleted(hashes)
	return nil
}

// MakeLink formats the canonical link for an indexed message.
func MakeLink(chatID int64, messageID int) string {
	return fmt.Sprintf("%s%d/%d", linkScheme, chatID, messageID)
}

// parseLink accepts telegram://<chatID>/<messageID> links and bare
// tg-<chatID>-<messageID> hashes.
func parseLink(link string) (int64, int, error) {
	if chatID, messageID, ok := downloads.ParseHash(link); ok {
		return chatID, messageID, nil
	}

	rest, ok := strings.CutPrefix(link, linkScheme)
	if !ok {
		return 0, 0, fmt.Errorf("unrecognized link %q", link)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed link %q", link)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed link %q: %w", link, err)
	}
	messageID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed link %q: %w", link, err)
	}
	return chatID, messageID, nil
}
