package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegrab/telegrab/internal/models"
)

// CreateDownload records a user-requested download. Re-requesting the same
// hash keeps the existing row.
func (s *Store) CreateDownload(ctx context.Context, rec *models.DownloadRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("create download %s: %w", rec.Hash, err)
	}
	return nil
}

// GetDownload returns a download record by hash, or nil if unknown.
func (s *Store) GetDownload(ctx context.Context, hash string) (*models.DownloadRecord, error) {
	var rec models.DownloadRecord
	err := s.db.WithContext(ctx).First(&rec, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download %s: %w", hash, err)
	}
	return &rec, nil
}

// ListDownloads returns all download records, newest first.
func (s *Store) ListDownloads(ctx context.Context) ([]models.DownloadRecord, error) {
	var recs []models.DownloadRecord
	if err := s.db.WithContext(ctx).Order("added_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return recs, nil
}

// MarkDownloadCompleted flips the completed flag on the persisted record.
func (s *Store) MarkDownloadCompleted(ctx context.Context, hash string) error {
	err := s.db.WithContext(ctx).
		Model(&models.DownloadRecord{}).
		Where("hash = ?", hash).
		Update("is_completed", true).Error
	if err != nil {
		return fmt.Errorf("mark download completed %s: %w", hash, err)
	}
	return nil
}

// DeleteDownload removes a download record.
func (s *Store) DeleteDownload(ctx context.Context, hash string) error {
	err := s.db.WithContext(ctx).Delete(&models.DownloadRecord{}, "hash = ?", hash).Error
	if err != nil {
		return fmt.Errorf("delete download %s: %w", hash, err)
	}
	return nil
}

// DeleteCompletedDownloads removes all completed records and returns the
// removed hashes so callers can drop matching in-memory entries.
func (s *Store) DeleteCompletedDownloads(ctx context.Context) ([]string, error) {
	var hashes []string
	err := s.db.WithContext(ctx).
		Model(&models.DownloadRecord{}).
		Where("is_completed = ?", true).
		Pluck("hash", &hashes).Error
	if err != nil {
		return nil, fmt.Errorf("list completed downloads: %w", err)
	}

	if len(hashes) == 0 {
		return nil, nil
	}

	err = s.db.WithContext(ctx).
		Delete(&models.DownloadRecord{}, "is_completed = ?", true).Error
	if err != nil {
		return nil, fmt.Errorf("delete completed downloads: %w", err)
	}
	return hashes, nil
}
