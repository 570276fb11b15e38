// Package downloads implements the per-item download manager: independent
// background streaming tasks with cooperative pause/resume/cancel, live
// speed tracking and atomic finalize-on-completion.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/models"
	"github.com/telegrab/telegrab/internal/telegram"
)

// chunkSize is the fixed request size for remote byte chunks (512 KiB,
// a multiple of 4 KiB as the API requires).
const chunkSize = 512 * 1024

// scratchSubdir is created under the configured temp directory for
// partially written files.
const scratchSubdir = "telegrab"

// EventPublisher publishes download lifecycle events. Optional.
type EventPublisher interface {
	PublishDownloadCompleted(ctx context.Context, event DownloadCompletedEvent) error
}

// DownloadCompletedEvent announces a finalized download.
type DownloadCompletedEvent struct {
	Hash        string    `json:"hash"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	Path        string    `json:"path"`
	CompletedAt time.Time `json:"completed_at"`
}

// Manager owns the in-memory download arena: one concurrency-safe map of
// active entries and one of completed statuses, keyed by hash and mutated
// only by the manager itself. Callers only ever receive copies.
type Manager struct {
	mu        sync.Mutex
	active    map[string]*entry
	completed map[string]Status

	source    MediaSource
	store     RecordStore
	dirs      DirectoryResolver
	publisher EventPublisher
	log       *logger.Logger
}

// NewManager wires a download manager.
// publisher may be nil to disable events.
func NewManager(source MediaSource, store RecordStore, dirs DirectoryResolver, publisher EventPublisher) *Manager {
	m := &Manager{
		active:    make(map[string]*entry),
		completed: make(map[string]Status),
		source:    source,
		store:     store,
		dirs:      dirs,
		publisher: publisher,
		log:       logger.Get(),
	}
	return m
}

// StartDownload resolves the message's media descriptor and launches an
// independent background streaming task. A hash that is already active or
// already completed is a successful no-op; a previously failed hash starts
// over. At most one task ever exists per hash.
func (m *Manager) StartDownload(ctx context.Context, chatID int64, messageID int, hash string) error {
	m.mu.Lock()
	_, isActive := m.active[hash]
	isDone := m.clearFailed(hash)
	m.mu.Unlock()
	if isActive || isDone {
		return nil
	}

	media, err := m.source.ResolveMedia(ctx, chatID, messageID)
	if err != nil {
		return err
	}

	name := media.FileName
	if name == "" {
		name = hash
	}
	e := newEntry(hash, name, media.Size)

	m.mu.Lock()
	if _, raced := m.active[hash]; raced {
		m.mu.Unlock()
		return nil
	}
	if m.clearFailed(hash) {
		m.mu.Unlock()
		return nil
	}
	m.active[hash] = e
	m.mu.Unlock()

	m.log.Info().
		Str("hash", hash).
		Str("file", name).
		Int64("size", media.Size).
		Msg("downloads: starting")

	// The task outlives the caller's request context.
	go m.stream(context.Background(), e, media)
	return nil
}

// clearFailed reports whether hash has a terminal completed status, dropping
// an error-state entry so the download can be attempted again.
// Caller must hold m.mu.
func (m *Manager) clearFailed(hash string) bool {
	prev, ok := m.completed[hash]
	if !ok {
		return false
	}
	if prev.State == StateError {
		delete(m.completed, hash)
		return false
	}
	return true
}

// PauseDownload suspends an active download. No-op unless the download is
// active and not already paused or cancelled.
func (m *Manager) PauseDownload(hash string) {
	m.mu.Lock()
	e, ok := m.active[hash]
	m.mu.Unlock()
	if !ok {
		return
	}

	if e.ctl.pause() {
		e.setState(StatePaused)
		m.log.Info().Str("hash", hash).Msg("downloads: paused")
	}
}

// ResumeDownload releases the pause gate. No-op unless currently paused.
func (m *Manager) ResumeDownload(hash string) {
	m.mu.Lock()
	e, ok := m.active[hash]
	m.mu.Unlock()
	if !ok {
		return
	}

	if e.ctl.resume() {
		e.setState(StateDownloading)
		m.log.Info().Str("hash", hash).Msg("downloads: resumed")
	}
}

// CancelDownload requests cooperative cancellation. A paused task is
// unblocked so it can observe the flag instead of waiting forever.
func (m *Manager) CancelDownload(hash string) {
	m.mu.Lock()
	e, ok := m.active[hash]
	m.mu.Unlock()
	if !ok {
		return
	}

	if e.ctl.cancel() {
		e.setState(StateStopped)
		m.log.Info().Str("hash", hash).Msg("downloads: cancelled")
	}
}

// GetDownloadStatus reports the best currently known state. Active and
// recently completed downloads report live state; otherwise a hash that
// parses as a (chat, message) reference is synthesized as completed from
// persisted message metadata. Returns nil when nothing is known.
func (m *Manager) GetDownloadStatus(ctx context.Context, hash string) *Status {
	m.mu.Lock()
	if e, ok := m.active[hash]; ok {
		m.mu.Unlock()
		s := e.snapshot()
		return &s
	}
	if s, ok := m.completed[hash]; ok {
		m.mu.Unlock()
		return &s
	}
	m.mu.Unlock()

	chatID, messageID, ok := ParseHash(hash)
	if !ok {
		return nil
	}
	msg, err := m.store.GetMessage(ctx, chatID, messageID)
	if err != nil || msg == nil || !msg.HasMedia {
		return nil
	}
	name := msg.FileName
	if name == "" {
		name = hash
	}
	return &Status{
		Hash:       hash,
		State:      StateCompleted,
		Name:       name,
		Size:       msg.FileSize,
		Downloaded: msg.FileSize,
	}
}

// ActiveStatuses returns snapshots of all live entries.
func (m *Manager) ActiveStatuses() []Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	done := make([]Status, 0, len(m.completed))
	for _, s := range m.completed {
		done = append(done, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(entries)+len(done))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	out = append(out, done...)
	return out
}

// RemoveDownload cancels an active task and forgets the hash. When
// deleteFiles is set, the finalized file (if any) is removed as well.
func (m *Manager) RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error {
	m.CancelDownload(hash)

	m.mu.Lock()
	delete(m.completed, hash)
	m.mu.Unlock()

	if !deleteFiles {
		return nil
	}

	rec, err := m.store.GetDownload(ctx, hash)
	if err != nil || rec == nil {
		return err
	}
	target := m.targetDir(rec)
	if err := os.Remove(filepath.Join(target, rec.FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove finalized file: %w", err)
	}
	return nil
}

// ForgetCompleted drops completed in-memory entries for the given hashes.
func (m *Manager) ForgetCompleted(hashes []string) {
	m.mu.Lock()
	for _, h := range hashes {
		delete(m.completed, h)
	}
	m.mu.Unlock()
}

// Stop cancels every active download. Used during shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	hashes := make([]string, 0, len(m.active))
	for h := range m.active {
		hashes = append(hashes, h)
	}
	m.mu.Unlock()

	for _, h := range hashes {
		m.CancelDownload(h)
	}
}

// stream is the background task for one download. It iterates the chunked
// remote stream, honoring the pause gate and the cancel flag before every
// write, then finalizes or cleans up.
func (m *Manager) stream(ctx context.Context, e *entry, media *telegram.MediaInfo) {
	hash := e.snapshot().Hash

	_, tempRoot := m.dirs.Directories()
	scratch := filepath.Join(tempRoot, scratchSubdir)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		m.fail(e, "", fmt.Errorf("create scratch dir: %w", err))
		return
	}
	tmpPath := filepath.Join(scratch, hash+".part")

	f, err := os.Create(tmpPath)
	if err != nil {
		m.fail(e, "", fmt.Errorf("create temp file: %w", err))
		return
	}

	stream, err := m.source.OpenStream(ctx, media, chunkSize)
	if err != nil {
		f.Close()
		m.fail(e, tmpPath, err)
		return
	}

	cancelled := false
	for {
		if e.ctl.isCancelled() {
			cancelled = true
			break
		}
		if gate := e.ctl.pauseGate(); gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			// resumed or released by cancel: re-check before writing
			if e.ctl.isCancelled() || ctx.Err() != nil {
				cancelled = true
				break
			}
		}

		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if wait, ok := telegram.AsFloodWait(err); ok {
			m.log.Warn().Str("hash", hash).Dur("wait", wait).Msg("downloads: rate limited mid-stream")
			select {
			case <-time.After(wait + time.Second):
				continue
			case <-ctx.Done():
				cancelled = true
			}
			if cancelled {
				break
			}
			continue
		}
		if err != nil {
			f.Close()
			m.fail(e, tmpPath, err)
			return
		}

		if _, err := f.Write(chunk); err != nil {
			f.Close()
			m.fail(e, tmpPath, err)
			return
		}
		e.addBytes(int64(len(chunk)))
	}

	if err := f.Close(); err != nil && !cancelled {
		m.fail(e, tmpPath, err)
		return
	}

	if cancelled {
		_ = os.Remove(tmpPath)
		m.mu.Lock()
		delete(m.active, hash)
		m.mu.Unlock()
		// status stays "stopped", set by CancelDownload
		return
	}

	m.finalize(ctx, e, media, tmpPath)
}

// finalize moves the fully streamed temp file into the resolved target
// directory and marks the persisted record completed. A partially written
// file is never finalized; any failure here surfaces as an error status.
func (m *Manager) finalize(ctx context.Context, e *entry, media *telegram.MediaInfo, tmpPath string) {
	s := e.snapshot()

	rec, err := m.store.GetDownload(ctx, s.Hash)
	if err != nil {
		m.log.Warn().Err(err).Str("hash", s.Hash).Msg("downloads: record lookup failed, using incoming dir")
	}

	target := m.targetDir(rec)
	if err := os.MkdirAll(target, 0755); err != nil {
		m.fail(e, tmpPath, fmt.Errorf("create target dir: %w", err))
		return
	}

	finalPath := filepath.Join(target, s.Name)
	if err := moveFile(tmpPath, finalPath); err != nil {
		m.fail(e, tmpPath, err)
		return
	}

	if err := m.store.MarkDownloadCompleted(ctx, s.Hash); err != nil {
		m.log.Error().Err(err).Str("hash", s.Hash).Msg("downloads: failed to mark record completed")
	}

	e.finish()

	// move the entry from active to completed exactly once
	m.mu.Lock()
	delete(m.active, s.Hash)
	m.completed[s.Hash] = e.snapshot()
	m.mu.Unlock()

	m.log.Info().
		Str("hash", s.Hash).
		Str("path", finalPath).
		Int64("size", media.Size).
		Msg("downloads: completed")

	if m.publisher != nil {
		event := DownloadCompletedEvent{
			Hash:        s.Hash,
			FileName:    s.Name,
			Size:        media.Size,
			Path:        finalPath,
			CompletedAt: time.Now(),
		}
		if err := m.publisher.PublishDownloadCompleted(ctx, event); err != nil {
			m.log.Warn().Err(err).Msg("downloads: failed to publish completion event")
		}
	}
}

// targetDir resolves the final directory: the category path when the record
// has one, else the default incoming directory.
func (m *Manager) targetDir(rec *models.DownloadRecord) string {
	incoming, _ := m.dirs.Directories()
	if rec == nil || rec.CategoryName == "" {
		return incoming
	}
	if p := m.dirs.ResolveCategoryPath(rec); p != "" {
		return p
	}
	return incoming
}

// fail records a stream error: best-effort temp cleanup, error status, log.
func (m *Manager) fail(e *entry, tmpPath string, err error) {
	if tmpPath != "" {
		_ = os.Remove(tmpPath)
	}

	s := e.snapshot()
	e.setState(StateError)

	m.mu.Lock()
	delete(m.active, s.Hash)
	m.completed[s.Hash] = e.snapshot()
	m.mu.Unlock()

	m.log.Error().Err(err).Str("hash", s.Hash).Msg("downloads: failed")
}

// moveFile renames src to dst, falling back to copy+remove when the rename
// crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create final file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy to final file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close final file: %w", err)
	}
	return os.Remove(src)
}
