// Package jetstream is a minimal client for the Bluesky Jetstream firehose:
// a WebSocket feed of repository commits, identity and account events
// encoded as JSON.
//
// The package only moves events; it does not interpret records. Reconnects
// are the caller's job: a Stream ends at the first transport error.
package jetstream

import "github.com/goccy/go-json"

// Event kinds.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Commit operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one Jetstream message. TimeUS is the server-assigned cursor
// token; it is opaque to consumers beyond ordering and persistence.
type Event struct {
	DID      string          `json:"did"`
	TimeUS   int64           `json:"time_us"`
	Kind     string          `json:"kind"`
	Commit   *Commit         `json:"commit,omitempty"`
	Identity json.RawMessage `json:"identity,omitempty"`
	Account  json.RawMessage `json:"account,omitempty"`
}

// Commit describes a single record operation in a repository.
// Record is left raw: it is untrusted and decoded by the caller.
type Commit struct {
	Rev        string          `json:"rev,omitempty"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}
