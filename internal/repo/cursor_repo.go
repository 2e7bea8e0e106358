// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the cursor store: a single row per
// consuming service holding the Jetstream time_us of the newest committed
// event.
//
// Functions accept a *gorm.DB so they can run inside the same transaction
// as the projection write they checkpoint.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-statusphere/internal/domain"
)

// LoadCursor returns the saved cursor for service. ok is false when the
// service has never checkpointed.
func LoadCursor(ctx context.Context, db *gorm.DB, service string) (timeUS int64, ok bool, err error) {
	var cur domain.Cursor
	err = db.WithContext(ctx).
		Where("service = ?", service).
		Take(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cur.TimeUS, true, nil
}

// SaveCursor stores timeUS for service. The stored value never moves
// backwards: saving an older position than the one on disk is a no-op for
// time_us.
func SaveCursor(ctx context.Context, db *gorm.DB, service string, timeUS int64) error {
	cur := &domain.Cursor{
		Service:   service,
		TimeUS:    timeUS,
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service"}},
			DoUpdates: clause.Assignments(map[string]any{
				"time_us":    gorm.Expr("MAX(jetstream_cursors.time_us, excluded.time_us)"),
				"updated_at": gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(cur).Error
}
