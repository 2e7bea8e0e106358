package repo

import (
	"context"
	"testing"

	"github.com/tbourn/go-statusphere/internal/domain"
)

func TestLoadCursor_Absent(t *testing.T) {
	db := newTestDB(t, &domain.Cursor{})

	v, ok, err := LoadCursor(context.Background(), db, "jetstream")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if ok || v != 0 {
		t.Fatalf("expected (0, false), got (%d, %v)", v, ok)
	}
}

func TestSaveCursor_RoundTripAndMonotonic(t *testing.T) {
	db := newTestDB(t, &domain.Cursor{})
	ctx := context.Background()

	if err := SaveCursor(ctx, db, "jetstream", 1725911162329308); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if err := SaveCursor(ctx, db, "jetstream", 1725911162400000); err != nil {
		t.Fatalf("SaveCursor advance: %v", err)
	}
	// Older position must not rewind the checkpoint.
	if err := SaveCursor(ctx, db, "jetstream", 1725911000000000); err != nil {
		t.Fatalf("SaveCursor rewind: %v", err)
	}

	v, ok, err := LoadCursor(ctx, db, "jetstream")
	if err != nil || !ok {
		t.Fatalf("LoadCursor: v=%d ok=%v err=%v", v, ok, err)
	}
	if v != 1725911162400000 {
		t.Fatalf("expected cursor 1725911162400000, got %d", v)
	}

	var n int64
	if err := db.Model(&domain.Cursor{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected exactly one cursor row, got %d (err=%v)", n, err)
	}
}

func TestSaveCursor_PerService(t *testing.T) {
	db := newTestDB(t, &domain.Cursor{})
	ctx := context.Background()

	if err := SaveCursor(ctx, db, "a", 10); err != nil {
		t.Fatalf("SaveCursor a: %v", err)
	}
	if err := SaveCursor(ctx, db, "b", 20); err != nil {
		t.Fatalf("SaveCursor b: %v", err)
	}
	if v, _, _ := LoadCursor(ctx, db, "a"); v != 10 {
		t.Fatalf("expected a=10, got %d", v)
	}
	if v, _, _ := LoadCursor(ctx, db, "b"); v != 20 {
		t.Fatalf("expected b=20, got %d", v)
	}
}

func TestSaveCursor_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if err := SaveCursor(context.Background(), db, "jetstream", 1); err == nil {
		t.Fatalf("expected error when table is missing")
	}
}
