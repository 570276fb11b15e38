package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegrab/telegrab/internal/downloads"
	"github.com/telegrab/telegrab/internal/models"
)

type fakeSearchStore struct {
	msgs      map[string]*models.Message
	files     []models.Message
	recs      []models.DownloadRecord
	created   []*models.DownloadRecord
	deleted   []string
	completed []string
}

func (f *fakeSearchStore) SearchFiles(ctx context.Context, query string, limit, offset int) ([]models.Message, error) {
	return f.files, nil
}

func (f *fakeSearchStore) GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error) {
	return f.msgs[downloads.MakeHash(chatID, messageID)], nil
}

func (f *fakeSearchStore) CreateDownload(ctx context.Context, rec *models.DownloadRecord) error {
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeSearchStore) ListDownloads(ctx context.Context) ([]models.DownloadRecord, error) {
	return f.recs, nil
}

func (f *fakeSearchStore) DeleteDownload(ctx context.Context, hash string) error {
	f.deleted = append(f.deleted, hash)
	return nil
}

func (f *fakeSearchStore) DeleteCompletedDownloads(ctx context.Context) ([]string, error) {
	return f.completed, nil
}

type fakeDownloader struct {
	started   []string
	paused    []string
	forgotten []string
	active    []downloads.Status
}

func (f *fakeDownloader) StartDownload(ctx context.Context, chatID int64, messageID int, hash string) error {
	f.started = append(f.started, hash)
	return nil
}

func (f *fakeDownloader) PauseDownload(hash string)  { f.paused = append(f.paused, hash) }
func (f *fakeDownloader) ResumeDownload(hash string) {}
func (f *fakeDownloader) CancelDownload(hash string) {}

func (f *fakeDownloader) RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error {
	return nil
}

func (f *fakeDownloader) GetDownloadStatus(ctx context.Context, hash string) *downloads.Status {
	return nil
}

func (f *fakeDownloader) ActiveStatuses() []downloads.Status { return f.active }

func (f *fakeDownloader) ForgetCompleted(hashes []string) {
	f.forgotten = append(f.forgotten, hashes...)
}

func TestTelegramProvider_CanHandleDownload(t *testing.T) {
	p := NewTelegramProvider(&fakeSearchStore{}, &fakeDownloader{})

	assert.True(t, p.CanHandleDownload("tg-123-45"))
	assert.True(t, p.CanHandleDownload("telegram://123/45"))
	assert.False(t, p.CanHandleDownload("magnet:?xt=urn:btih:abc"))
	assert.False(t, p.CanHandleDownload("telegram://not/numeric"))
	assert.False(t, p.CanHandleDownload(""))
}

func TestTelegramProvider_AddDownload(t *testing.T) {
	store := &fakeSearchStore{
		msgs: map[string]*models.Message{
			"tg-42-7": {ChatID: 42, MessageID: 7, HasMedia: true, FileName: "movie.mkv", FileSize: 900},
		},
	}
	manager := &fakeDownloader{}
	p := NewTelegramProvider(store, manager)
	ctx := context.Background()

	hash, err := p.AddDownload(ctx, "telegram://42/7", "movies")
	require.NoError(t, err)
	assert.Equal(t, "tg-42-7", hash)
	assert.Equal(t, []string{"tg-42-7"}, manager.started)

	require.Len(t, store.created, 1)
	rec := store.created[0]
	assert.Equal(t, "movie.mkv", rec.FileName)
	assert.Equal(t, "movies", rec.CategoryName)
	assert.Equal(t, "telegram", rec.Provider)

	// a message without media is rejected
	_, err = p.AddDownload(ctx, "telegram://42/8", "")
	assert.Error(t, err)
}

func TestTelegramProvider_Search(t *testing.T) {
	store := &fakeSearchStore{
		files: []models.Message{
			{ChatID: 1, MessageID: 2, HasMedia: true, FileName: "a.pdf", FileSize: 10, Date: time.Now()},
			{ChatID: 1, MessageID: 3, HasMedia: true, FileName: "b.pdf", FileSize: 20, Date: time.Now()},
		},
	}
	p := NewTelegramProvider(store, &fakeDownloader{})
	ctx := context.Background()

	id, err := p.StartSearch(ctx, "pdf")
	require.NoError(t, err)

	// the search is asynchronous; poll until it reports complete
	deadline := time.Now().Add(time.Second)
	for {
		status, err := p.GetSearchStatus(ctx, id)
		require.NoError(t, err)
		if status.Progress == 100 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("search did not complete")
		}
		time.Sleep(time.Millisecond)
	}

	results, err := p.GetSearchResults(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "telegram://1/2", results[0].Link)
	assert.Equal(t, "telegram", results[0].Provider)

	paged, err := p.GetSearchResults(ctx, id, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "b.pdf", paged[0].FileName)

	_, err = p.GetSearchResults(ctx, "unknown", 10, 0)
	assert.Error(t, err)
}

func TestTelegramProvider_GetTransfers(t *testing.T) {
	store := &fakeSearchStore{
		recs: []models.DownloadRecord{
			{Hash: "tg-1-1", FileName: "live.bin", Size: 100},
			{Hash: "tg-1-2", FileName: "done.bin", Size: 50, IsCompleted: true},
			{Hash: "tg-1-3", FileName: "interrupted.bin", Size: 70},
		},
	}
	manager := &fakeDownloader{
		active: []downloads.Status{
			{Hash: "tg-1-1", State: downloads.StateDownloading, Downloaded: 40, Speed: 1024, Size: 100},
		},
	}
	p := NewTelegramProvider(store, manager)

	transfers, err := p.GetTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 3)

	byHash := make(map[string]Transfer)
	for _, tr := range transfers {
		byHash[tr.Hash] = tr
	}

	assert.Equal(t, downloads.StateDownloading, byHash["tg-1-1"].State)
	assert.Equal(t, int64(40), byHash["tg-1-1"].Downloaded)

	assert.Equal(t, downloads.StateCompleted, byHash["tg-1-2"].State)
	assert.Equal(t, int64(50), byHash["tg-1-2"].Downloaded)

	// no live entry and not completed: degraded to stopped after a restart
	assert.Equal(t, downloads.StateStopped, byHash["tg-1-3"].State)
	assert.Equal(t, int64(0), byHash["tg-1-3"].Downloaded)
}

func TestTelegramProvider_ClearCompletedTransfers(t *testing.T) {
	store := &fakeSearchStore{completed: []string{"tg-1-2", "tg-1-5"}}
	manager := &fakeDownloader{}
	p := NewTelegramProvider(store, manager)

	require.NoError(t, p.ClearCompletedTransfers(context.Background()))
	assert.Equal(t, []string{"tg-1-2", "tg-1-5"}, manager.forgotten)
}
