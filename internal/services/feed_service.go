// Package services – FeedService
//
// This file implements the read side of the projection used by the HTTP
// layer. It never writes; the ingest pipeline is the only writer.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-statusphere/internal/domain"
	"github.com/tbourn/go-statusphere/internal/repo"
)

// Feed limits.
const (
	DefaultFeedLimit = 10
	MaxFeedLimit     = 100
)

// FeedService answers feed and profile queries.
type FeedService struct {
	// DB is the GORM handle used for reads.
	DB *gorm.DB
}

// ClampLimit applies the default for non-positive values and caps at
// MaxFeedLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		return MaxFeedLimit
	}
	return limit
}

// LatestStatuses returns the current status of each author, newest first.
// before, when non-nil, restricts the page to rows indexed strictly earlier;
// pass the IndexedAt of the last row of the previous page.
func (s *FeedService) LatestStatuses(ctx context.Context, limit int, before *time.Time) ([]domain.Status, error) {
	items, err := repo.LatestStatuses(ctx, s.DB, ClampLimit(limit), before)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Status{}
	}
	return items, nil
}

// StatusFor returns the author's current status or ErrStatusNotFound.
func (s *FeedService) StatusFor(ctx context.Context, did string) (*domain.Status, error) {
	st, err := repo.StatusFor(ctx, s.DB, did)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}
	return st, nil
}

// History returns up to limit of the author's statuses, newest first.
// An author with no rows yields an empty slice.
func (s *FeedService) History(ctx context.Context, did string, limit int) ([]domain.Status, error) {
	items, err := repo.ListAuthorStatuses(ctx, s.DB, did, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Status{}
	}
	return items, nil
}

// FeedVersion identifies a state of the projection for conditional requests.
type FeedVersion struct {
	Count        int64
	MaxIndexedAt *time.Time
}

// Version returns the current FeedVersion.
func (s *FeedService) Version(ctx context.Context) (FeedVersion, error) {
	n, maxAt, err := repo.StatusStats(ctx, s.DB)
	if err != nil {
		return FeedVersion{}, err
	}
	return FeedVersion{Count: n, MaxIndexedAt: maxAt}, nil
}
