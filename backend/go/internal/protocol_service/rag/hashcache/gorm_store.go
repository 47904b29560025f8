package hashcache

import (
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps cache entries in the summary_cache table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get looks up the summary for digest.
func (s *GormStore) Get(ctx context.Context, digest string) (string, bool, error) {
	var entry models.SummaryCacheEntry
	err := s.db.WithContext(ctx).Where("content_hash = ?", digest).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read summary cache: %w", err)
	}
	return entry.Summary, true, nil
}

// Put inserts the entry unless one already exists for digest.
func (s *GormStore) Put(ctx context.Context, digest, summary string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SummaryCacheEntry{ContentHash: digest, Summary: summary}).Error
	if err != nil {
		return fmt.Errorf("failed to write summary cache: %w", err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
