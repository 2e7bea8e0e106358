// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Status
// projection.
//
// Error semantics:
//   - StatusFor returns ErrNotFound (gorm.ErrRecordNotFound) when the author
//     has no row.
//   - DeleteStatus treats a missing row as success.
//   - Other DB errors are propagated raw; the service layer wraps them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-statusphere/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertStatus inserts s, or overwrites uri, status, created_at and
// indexed_at of the existing (author_did, rkey) row. Replaying the same
// record yields the same row.
func UpsertStatus(ctx context.Context, db *gorm.DB, s *domain.Status) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_did"}, {Name: "rkey"}},
			DoUpdates: clause.AssignmentColumns([]string{"uri", "status", "created_at", "indexed_at"}),
		}).
		Create(s).Error
}

// DeleteStatus removes the (did, rkey) row. It reports whether a row was
// removed; absence is not an error.
func DeleteStatus(ctx context.Context, db *gorm.DB, did, rkey string) (bool, error) {
	res := db.WithContext(ctx).
		Where("author_did = ? AND rkey = ?", did, rkey).
		Delete(&domain.Status{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// latestPerAuthor selects each author's most recently indexed row.
func latestPerAuthor(db *gorm.DB) *gorm.DB {
	return db.Model(&domain.Status{}).
		Select("author_did, rkey, uri, status, created_at, indexed_at, " +
			"ROW_NUMBER() OVER (PARTITION BY author_did ORDER BY indexed_at DESC, rkey DESC) AS rn")
}

// LatestStatuses returns the current status of each author, newest first by
// indexed_at. When before is non-nil only rows indexed strictly earlier are
// returned, which pages through the feed.
func LatestStatuses(ctx context.Context, db *gorm.DB, limit int, before *time.Time) ([]domain.Status, error) {
	q := db.WithContext(ctx).
		Table("(?) AS latest", latestPerAuthor(db.WithContext(ctx))).
		Select("author_did, rkey, uri, status, created_at, indexed_at").
		Where("rn = 1")
	if before != nil {
		q = q.Where("indexed_at < ?", before.UTC())
	}
	var out []domain.Status
	err := q.Order("indexed_at DESC").Limit(limit).Scan(&out).Error
	return out, err
}

// StatusFor returns the author's most recently indexed row, or ErrNotFound.
func StatusFor(ctx context.Context, db *gorm.DB, did string) (*domain.Status, error) {
	var s domain.Status
	err := db.WithContext(ctx).
		Where("author_did = ?", did).
		Order("indexed_at DESC").
		Order("rkey DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListAuthorStatuses returns up to limit rows of did, newest first.
func ListAuthorStatuses(ctx context.Context, db *gorm.DB, did string, limit int) ([]domain.Status, error) {
	var out []domain.Status
	err := db.WithContext(ctx).
		Where("author_did = ?", did).
		Order("indexed_at DESC").
		Order("rkey DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
