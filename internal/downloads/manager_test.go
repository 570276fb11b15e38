package downloads

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/telegrab/telegrab/internal/models"
	"github.com/telegrab/telegrab/internal/telegram"
)

type chunkOrErr struct {
	b   []byte
	err error
}

// scriptedStream serves chunks pushed by the test, giving it full control
// over the pacing of the streaming task.
type scriptedStream struct {
	ch chan chunkOrErr
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{ch: make(chan chunkOrErr, 16)}
}

func (s *scriptedStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case v := <-s.ch:
		return v.b, v.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedStream) push(b []byte)     { s.ch <- chunkOrErr{b: b} }
func (s *scriptedStream) pushErr(err error) { s.ch <- chunkOrErr{err: err} }
func (s *scriptedStream) eof()              { s.ch <- chunkOrErr{err: io.EOF} }

type fakeSource struct {
	mu           sync.Mutex
	media        *telegram.MediaInfo
	resolveErr   error
	stream       *scriptedStream
	resolveCalls int
	openCalls    int
}

func (f *fakeSource) ResolveMedia(ctx context.Context, chatID int64, messageID int) (*telegram.MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.media, nil
}

func (f *fakeSource) OpenStream(ctx context.Context, media *telegram.MediaInfo, chunkSize int) (ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	return f.stream, nil
}

type fakeRecordStore struct {
	mu        sync.Mutex
	recs      map[string]*models.DownloadRecord
	msgs      map[string]*models.Message // keyed by hash
	completed []string
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		recs: make(map[string]*models.DownloadRecord),
		msgs: make(map[string]*models.Message),
	}
}

func (f *fakeRecordStore) GetDownload(ctx context.Context, hash string) (*models.DownloadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[hash], nil
}

func (f *fakeRecordStore) MarkDownloadCompleted(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, hash)
	return nil
}

func (f *fakeRecordStore) GetMessage(ctx context.Context, chatID int64, messageID int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[MakeHash(chatID, messageID)], nil
}

type fakeDirs struct {
	incoming     string
	temp         string
	categoryPath string
}

func (f *fakeDirs) Directories() (string, string) { return f.incoming, f.temp }

func (f *fakeDirs) ResolveCategoryPath(rec *models.DownloadRecord) string {
	if rec != nil && rec.CategoryName != "" {
		return f.categoryPath
	}
	return ""
}

func testMedia(size int64, name string) *telegram.MediaInfo {
	return &telegram.MediaInfo{
		DocumentID:   1,
		Size:         size,
		Type:         "application/octet-stream",
		FileName:     name,
		Downloadable: true,
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeSource, *fakeRecordStore, *fakeDirs) {
	t.Helper()

	dirs := &fakeDirs{
		incoming:     filepath.Join(t.TempDir(), "incoming"),
		temp:         t.TempDir(),
		categoryPath: filepath.Join(t.TempDir(), "movies"),
	}
	source := &fakeSource{stream: newScriptedStream()}
	store := newFakeRecordStore()
	return NewManager(source, store, dirs, nil), source, store, dirs
}

// waitStatus polls until the status satisfies cond or the deadline passes.
func waitStatus(t *testing.T, m *Manager, hash string, cond func(*Status) bool) *Status {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := m.GetDownloadStatus(context.Background(), hash)
		if cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status condition on %s", hash)
	return nil
}

func TestStartDownload_StreamsAndFinalizes(t *testing.T) {
	m, source, store, dirs := newTestManager(t)
	source.media = testMedia(10, "video.mkv")
	hash := MakeHash(1, 10)

	if err := m.StartDownload(context.Background(), 1, 10, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}

	source.stream.push([]byte("hello"))
	source.stream.push([]byte("world"))
	source.stream.eof()

	s := waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateCompleted
	})
	if s.Downloaded != 10 || s.Speed != 0 {
		t.Errorf("completed status = %+v, want downloaded=10 speed=0", s)
	}

	data, err := os.ReadFile(filepath.Join(dirs.incoming, "video.mkv"))
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if string(data) != "helloworld" {
		t.Errorf("final file content = %q", data)
	}

	store.mu.Lock()
	completed := append([]string(nil), store.completed...)
	store.mu.Unlock()
	if len(completed) != 1 || completed[0] != hash {
		t.Errorf("marked completed = %v, want [%s]", completed, hash)
	}

	// starting again is a successful no-op
	if err := m.StartDownload(context.Background(), 1, 10, hash); err != nil {
		t.Fatalf("repeated StartDownload() error: %v", err)
	}
	if source.resolveCalls != 1 {
		t.Errorf("resolveCalls = %d, want 1", source.resolveCalls)
	}
}

func TestStartDownload_CategoryTarget(t *testing.T) {
	m, source, store, dirs := newTestManager(t)
	source.media = testMedia(3, "song.mp3")
	hash := MakeHash(2, 5)
	store.recs[hash] = &models.DownloadRecord{Hash: hash, FileName: "song.mp3", CategoryName: "movies"}

	if err := m.StartDownload(context.Background(), 2, 5, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("abc"))
	source.stream.eof()

	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateCompleted
	})

	if _, err := os.Stat(filepath.Join(dirs.categoryPath, "song.mp3")); err != nil {
		t.Errorf("file not finalized into category dir: %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	m, source, _, _ := newTestManager(t)
	source.media = testMedia(10, "a.bin")
	hash := MakeHash(1, 1)

	if err := m.StartDownload(context.Background(), 1, 1, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("12345"))
	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.Downloaded == 5
	})

	m.PauseDownload(hash)
	s := m.GetDownloadStatus(context.Background(), hash)
	if s.State != StatePaused || s.Speed != 0 {
		t.Errorf("paused status = %+v", s)
	}

	// queued chunks must not complete the download while paused
	source.stream.push([]byte("67890"))
	source.stream.eof()
	time.Sleep(20 * time.Millisecond)
	if s := m.GetDownloadStatus(context.Background(), hash); s.State == StateCompleted {
		t.Fatal("download completed while paused")
	}

	m.ResumeDownload(hash)
	s = waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateCompleted
	})
	if s.Downloaded != 10 {
		t.Errorf("downloaded = %d, want 10", s.Downloaded)
	}
}

func TestCancel_CleansUpTempFile(t *testing.T) {
	m, source, _, dirs := newTestManager(t)
	source.media = testMedia(10, "b.bin")
	hash := MakeHash(1, 2)

	if err := m.StartDownload(context.Background(), 1, 2, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("12345"))
	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.Downloaded == 5
	})

	m.CancelDownload(hash)
	if s := m.GetDownloadStatus(context.Background(), hash); s == nil || s.State != StateStopped {
		t.Errorf("status after cancel = %+v, want stopped", s)
	}

	// unblock the task so it can observe cancellation
	source.stream.push([]byte("67890"))

	waitStatus(t, m, hash, func(s *Status) bool { return s == nil })

	if _, err := os.Stat(filepath.Join(dirs.temp, scratchSubdir, hash+".part")); !os.IsNotExist(err) {
		t.Error("temp file not removed after cancel")
	}
	if _, err := os.Stat(filepath.Join(dirs.incoming, "b.bin")); !os.IsNotExist(err) {
		t.Error("cancelled download must not be finalized")
	}
}

func TestCancelWhilePaused_Unblocks(t *testing.T) {
	m, source, _, _ := newTestManager(t)
	source.media = testMedia(10, "c.bin")
	hash := MakeHash(1, 3)

	if err := m.StartDownload(context.Background(), 1, 3, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("12345"))
	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.Downloaded == 5
	})

	m.PauseDownload(hash)

	// feed one more chunk so the task reaches the gate and parks there
	source.stream.push([]byte("67890"))
	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.Downloaded == 10
	})

	m.CancelDownload(hash)

	// the released gate lets the task exit without further chunks
	waitStatus(t, m, hash, func(s *Status) bool { return s == nil })
}

func TestStreamError_MarksError(t *testing.T) {
	m, source, _, dirs := newTestManager(t)
	source.media = testMedia(10, "d.bin")
	hash := MakeHash(1, 4)

	if err := m.StartDownload(context.Background(), 1, 4, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("12345"))
	source.stream.pushErr(errors.New("connection lost"))

	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateError
	})

	if _, err := os.Stat(filepath.Join(dirs.temp, scratchSubdir, hash+".part")); !os.IsNotExist(err) {
		t.Error("temp file not removed after stream error")
	}
}

func TestStartDownload_RestartsAfterStreamError(t *testing.T) {
	m, source, _, dirs := newTestManager(t)
	source.media = testMedia(10, "d.bin")
	hash := MakeHash(1, 4)

	if err := m.StartDownload(context.Background(), 1, 4, hash); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	source.stream.push([]byte("12345"))
	source.stream.pushErr(errors.New("connection lost"))

	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateError
	})

	// a failed hash is not terminal: the next start launches a fresh task
	source.mu.Lock()
	source.stream = newScriptedStream()
	source.mu.Unlock()

	if err := m.StartDownload(context.Background(), 1, 4, hash); err != nil {
		t.Fatalf("StartDownload() retry error: %v", err)
	}
	source.stream.push([]byte("1234567890"))
	source.stream.eof()

	waitStatus(t, m, hash, func(s *Status) bool {
		return s != nil && s.State == StateCompleted
	})

	data, err := os.ReadFile(filepath.Join(dirs.incoming, "d.bin"))
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if string(data) != "1234567890" {
		t.Errorf("final file = %q, want %q", data, "1234567890")
	}
	if source.resolveCalls != 2 {
		t.Errorf("resolveCalls = %d, want 2", source.resolveCalls)
	}
}

func TestGetDownloadStatus_SynthesizedFromIndex(t *testing.T) {
	m, _, store, _ := newTestManager(t)
	hash := MakeHash(5, 7)
	store.msgs[hash] = &models.Message{
		ChatID: 5, MessageID: 7,
		HasMedia: true, FileName: "archive.zip", FileSize: 4096,
	}

	s := m.GetDownloadStatus(context.Background(), hash)
	if s == nil {
		t.Fatal("expected synthesized status")
	}
	if s.State != StateCompleted || s.Downloaded != 4096 || s.Size != 4096 || s.Name != "archive.zip" {
		t.Errorf("synthesized status = %+v", s)
	}

	if s := m.GetDownloadStatus(context.Background(), "not-a-hash"); s != nil {
		t.Errorf("unknown identifier status = %+v, want nil", s)
	}
}

func TestResolveFailure_NotStarted(t *testing.T) {
	m, source, _, _ := newTestManager(t)
	source.resolveErr = telegram.ErrUnsupportedMedia
	hash := MakeHash(1, 9)

	err := m.StartDownload(context.Background(), 1, 9, hash)
	if !errors.Is(err, telegram.ErrUnsupportedMedia) {
		t.Fatalf("StartDownload() error = %v, want ErrUnsupportedMedia", err)
	}
	if len(m.ActiveStatuses()) != 0 {
		t.Error("failed start must not leave an active entry")
	}
}
