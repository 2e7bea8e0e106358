// Package record classifies firehose events and decodes status records from
// their untrusted payloads.
//
// Decode is pure: it performs no I/O and never logs, so it can be exercised
// against captured or hostile payloads in isolation. Every input maps to one
// of three outcomes; nothing panics and nothing is returned as an error.
package record

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tbourn/go-statusphere/internal/domain"
	"github.com/tbourn/go-statusphere/internal/jetstream"
)

// Kind tags an Outcome.
type Kind int

const (
	// Accepted carries a Mutation to apply to the projection.
	Accepted Kind = iota + 1
	// Ignored events are not ours (other collections, identity and account
	// events). Filtering outcome, not an error.
	Ignored
	// Malformed events claim our collection but fail validation. They are
	// dropped and never retried.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Ignored:
		return "ignored"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of Decode. Mutation is set only when Kind is
// Accepted; Reason explains Ignored and Malformed outcomes.
type Outcome struct {
	Kind     Kind
	Mutation domain.StatusMutation
	Reason   string
}

// MaxStatusLength bounds the status value, in characters.
const MaxStatusLength = 32

// Record field names are matched exactly. Keys that differ only in case
// are unknown fields and are ignored like any other.
const (
	fieldType      = "$type"
	fieldStatus    = "status"
	fieldCreatedAt = "createdAt"
)

// statusValue carries the field constraints checked after type decoding.
type statusValue struct {
	Status string `validate:"required,max=32"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func ignored(reason string) Outcome   { return Outcome{Kind: Ignored, Reason: reason} }
func malformed(reason string) Outcome { return Outcome{Kind: Malformed, Reason: reason} }

// Decode classifies ev.
func Decode(ev jetstream.Event) Outcome {
	if ev.Kind != jetstream.KindCommit {
		return ignored("kind " + ev.Kind)
	}
	c := ev.Commit
	if c == nil {
		return malformed("commit event without commit body")
	}
	if c.Collection != domain.StatusCollection {
		return ignored("collection " + c.Collection)
	}
	if ev.DID == "" {
		return malformed("missing did")
	}
	if c.RKey == "" {
		return malformed("missing rkey")
	}

	switch c.Operation {
	case jetstream.OpDelete:
		return Outcome{Kind: Accepted, Mutation: domain.StatusMutation{
			Op:        domain.OpDelete,
			AuthorDID: ev.DID,
			RKey:      c.RKey,
		}}
	case jetstream.OpCreate, jetstream.OpUpdate:
		return decodeUpsert(ev.DID, c)
	default:
		return malformed(fmt.Sprintf("unknown operation %q", c.Operation))
	}
}

func decodeUpsert(did string, c *jetstream.Commit) Outcome {
	raw := bytes.TrimSpace(c.Record)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return malformed("missing record")
	}
	if raw[0] != '{' {
		return malformed("record is not an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return malformed("decode record: " + err.Error())
	}
	recType, err := stringField(fields, fieldType)
	if err != nil {
		return malformed(err.Error())
	}
	if recType != nil && *recType != domain.StatusCollection {
		return malformed(fmt.Sprintf("record $type %q does not match collection", *recType))
	}
	status, err := stringField(fields, fieldStatus)
	if err != nil {
		return malformed(err.Error())
	}
	if status == nil {
		return malformed("missing status")
	}
	if err := validate.Struct(statusValue{Status: *status}); err != nil {
		return malformed("invalid status: " + err.Error())
	}
	createdAt, err := stringField(fields, fieldCreatedAt)
	if err != nil {
		return malformed(err.Error())
	}

	m := domain.StatusMutation{
		Op:        domain.OpUpsert,
		AuthorDID: did,
		RKey:      c.RKey,
		Status:    *status,
	}
	if createdAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *createdAt); err == nil {
			m.CreatedAt = t.UTC()
		}
	}
	return Outcome{Kind: Accepted, Mutation: m}
}

// stringField returns the string stored under key, or nil when the key is
// absent or null.
func stringField(fields map[string]json.RawMessage, key string) (*string, error) {
	v, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var s *string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return s, nil
}
