package services

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-statusphere/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Status{}, &domain.Cursor{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stepClock returns a clock that advances by one second per call.
func stepClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func upsert(did, rkey, status string) domain.StatusMutation {
	return domain.StatusMutation{
		Op:        domain.OpUpsert,
		AuthorDID: did,
		RKey:      rkey,
		Status:    status,
		CreatedAt: time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC),
	}
}

func del(did, rkey string) domain.StatusMutation {
	return domain.StatusMutation{Op: domain.OpDelete, AuthorDID: did, RKey: rkey}
}

// snapshot is the projection without indexed_at, which is reassigned on
// every apply.
type snapshotRow struct {
	AuthorDID, RKey, URI, Status string
	CreatedAt                    time.Time
}

func snapshot(t *testing.T, db *gorm.DB) []snapshotRow {
	t.Helper()
	var rows []domain.Status
	if err := db.Order("author_did").Order("rkey").Find(&rows).Error; err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make([]snapshotRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, snapshotRow{r.AuthorDID, r.RKey, r.URI, r.Status, r.CreatedAt.UTC()})
	}
	return out
}

func equalSnapshots(a, b []snapshotRow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].AuthorDID != b[i].AuthorDID || a[i].RKey != b[i].RKey ||
			a[i].URI != b[i].URI || a[i].Status != b[i].Status ||
			!a[i].CreatedAt.Equal(b[i].CreatedAt) {
			return false
		}
	}
	return true
}
