// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains a small aggregate query used for
// conditional feed responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-statusphere/internal/domain"
)

// StatusStats returns the number of projected rows and the greatest
// indexed_at among them. Any apply or delete changes at least one of the
// two, so together they identify a version of the feed.
//
// When the table is empty, count is 0 and maxIndexedAt is nil.
func StatusStats(ctx context.Context, db *gorm.DB) (count int64, maxIndexedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Status{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest indexed_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		IndexedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Status{}).
		Select("indexed_at").Order("indexed_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.IndexedAt, nil
}
