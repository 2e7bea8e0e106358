// Package domain defines the persistence models for the status projection
// and the firehose cursor. These types are mapped with GORM and form the core
// data layer shared by the ingest pipeline and the query API.
package domain

import (
	"fmt"
	"time"
)

// StatusCollection is the record collection (NSID) this application projects.
const StatusCollection = "xyz.statusphere.status"

// Status is the latest known status record published by an author under a
// given record key. Rows are keyed by (author_did, rkey); a newer record with
// the same key replaces the row and a delete removes it.
//
// Fields:
//   - AuthorDID: DID of the publishing repository (assigned upstream).
//   - RKey: record key, unique within the author's repository.
//   - URI: at-uri of the record, at://{did}/{collection}/{rkey}.
//   - Status: short opaque text (usually a single emoji).
//   - CreatedAt: client-supplied timestamp, display only.
//   - IndexedAt: local apply time; the sole ordering key for the feed.
type Status struct {
	AuthorDID string    `json:"author_did" gorm:"column:author_did;type:varchar(256);primaryKey;index:idx_statuses_author_indexed,priority:1"`
	RKey      string    `json:"rkey"       gorm:"column:rkey;type:varchar(512);primaryKey"`
	URI       string    `json:"uri"        gorm:"column:uri;type:text;not null;uniqueIndex:ux_statuses_uri"`
	Status    string    `json:"status"     gorm:"column:status;type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false"`
	IndexedAt time.Time `json:"indexed_at" gorm:"column:indexed_at;not null;index:idx_statuses_indexed_at;index:idx_statuses_author_indexed,priority:2"`
}

// TableName returns the database table name for Status.
func (Status) TableName() string { return "statuses" }

// Cursor is the durable position of the firehose consumer. There is one row
// per consuming service; TimeUS is the opaque Jetstream time_us token of the
// newest event whose effects are committed.
type Cursor struct {
	Service   string    `gorm:"column:service;type:varchar(64);primaryKey"`
	TimeUS    int64     `gorm:"column:time_us;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the database table name for Cursor.
func (Cursor) TableName() string { return "jetstream_cursors" }

// Op is the projection operation carried by a StatusMutation.
type Op int

const (
	// OpUpsert inserts or replaces the (author, rkey) row.
	OpUpsert Op = iota + 1
	// OpDelete removes the (author, rkey) row if present.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// StatusMutation is a validated change to the projection, produced by the
// record decoder from a firehose commit.
type StatusMutation struct {
	Op        Op
	AuthorDID string
	RKey      string
	Status    string    // empty for OpDelete
	CreatedAt time.Time // zero when the client omitted or garbled it
}

// URI returns the at-uri addressed by the mutation.
func (m StatusMutation) URI() string {
	return RecordURI(m.AuthorDID, StatusCollection, m.RKey)
}

// RecordURI formats an at-uri for a record.
func RecordURI(did, collection, rkey string) string {
	return "at://" + did + "/" + collection + "/" + rkey
}
