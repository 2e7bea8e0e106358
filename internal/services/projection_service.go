// Package services – ProjectionService
//
// This file implements the write side of the projection. Every accepted
// mutation is applied together with the cursor of the event that carried it
// in a single transaction, so a crash can only cause redelivery, never loss.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-statusphere/internal/domain"
	"github.com/tbourn/go-statusphere/internal/repo"
)

// DefaultCursorService is the cursor row used when Service is empty.
const DefaultCursorService = "jetstream"

// ProjectionService is the single writer of the statuses and cursor tables.
// It is safe for concurrent use, but the ingest pipeline drives it from one
// goroutine so that per-author order is the delivery order.
type ProjectionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Service names the cursor row.
	Service string
	// Now returns the wall clock; tests override it.
	Now func() time.Time

	mu     sync.Mutex
	last   time.Time
	seeded bool
}

// NewProjectionService returns a ProjectionService checkpointing under
// the default cursor row.
func NewProjectionService(db *gorm.DB) *ProjectionService {
	return &ProjectionService{DB: db, Service: DefaultCursorService, Now: time.Now}
}

func (s *ProjectionService) service() string {
	if s.Service == "" {
		return DefaultCursorService
	}
	return s.Service
}

// nextIndexedAt returns max(now, last+1µs) in UTC. Successive applies never
// share an indexed_at, so the feed order is the local apply order. The
// first call seeds last from the stored rows, which keeps the order across
// restarts even if the wall clock stepped back in between.
func (s *ProjectionService) nextIndexedAt(ctx context.Context) (time.Time, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().UTC().Truncate(time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		_, latest, err := repo.StatusStats(ctx, s.DB)
		if err != nil {
			return time.Time{}, err
		}
		if latest != nil && latest.After(s.last) {
			s.last = latest.UTC()
		}
		s.seeded = true
	}
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t, nil
}

// Apply writes m and advances the cursor to cursor in one transaction.
//
// Semantics:
//   - OpUpsert inserts or replaces the (author, rkey) row. A zero CreatedAt
//     falls back to the row's IndexedAt.
//   - OpDelete removes the row; a missing row is not an error.
//   - The cursor never moves backwards (see repo.SaveCursor).
//
// Errors:
//   - ErrInvalidMutation for an unknown op or empty key.
//   - Any persistence failure is returned wrapped with ErrStore; nothing of
//     the mutation or cursor is committed in that case.
func (s *ProjectionService) Apply(ctx context.Context, m domain.StatusMutation, cursor int64) error {
	if m.AuthorDID == "" || m.RKey == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidMutation)
	}

	var write func(tx *gorm.DB) error
	switch m.Op {
	case domain.OpUpsert:
		indexed, err := s.nextIndexedAt(ctx)
		if err != nil {
			return fmt.Errorf("%w: seed indexed_at: %w", ErrStore, err)
		}
		created := m.CreatedAt.UTC()
		if m.CreatedAt.IsZero() {
			created = indexed
		}
		row := &domain.Status{
			AuthorDID: m.AuthorDID,
			RKey:      m.RKey,
			URI:       m.URI(),
			Status:    m.Status,
			CreatedAt: created,
			IndexedAt: indexed,
		}
		write = func(tx *gorm.DB) error { return repo.UpsertStatus(ctx, tx, row) }
	case domain.OpDelete:
		write = func(tx *gorm.DB) error {
			_, err := repo.DeleteStatus(ctx, tx, m.AuthorDID, m.RKey)
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMutation, m.Op)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := write(tx); err != nil {
			return err
		}
		return repo.SaveCursor(ctx, tx, s.service(), cursor)
	})
	if err != nil {
		return fmt.Errorf("%w: apply %s %s: %w", ErrStore, m.Op, m.URI(), err)
	}
	return nil
}

// Advance moves the cursor to cursor without touching the projection. It is
// used for events that were ignored or rejected by the decoder.
func (s *ProjectionService) Advance(ctx context.Context, cursor int64) error {
	if err := repo.SaveCursor(ctx, s.DB, s.service(), cursor); err != nil {
		return fmt.Errorf("%w: save cursor: %w", ErrStore, err)
	}
	return nil
}

// Cursor returns the durably saved position. ok is false before the first
// checkpoint.
func (s *ProjectionService) Cursor(ctx context.Context) (timeUS int64, ok bool, err error) {
	timeUS, ok, err = repo.LoadCursor(ctx, s.DB, s.service())
	if err != nil {
		return 0, false, fmt.Errorf("%w: load cursor: %w", ErrStore, err)
	}
	return timeUS, ok, nil
}
