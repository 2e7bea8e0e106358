// Package services defines the business logic over the status projection:
// applying decoded firehose mutations and answering feed queries.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer; the ingest consumer decides which errors are fatal.
package services

import "errors"

var (
	// ErrStore wraps any failure to persist a projection change or cursor.
	// The ingest consumer treats it as fatal: continuing past it would let
	// the saved cursor diverge from the projection.
	ErrStore = errors.New("projection store failure")

	// ErrStatusNotFound indicates that the author has no projected status.
	ErrStatusNotFound = errors.New("status not found")

	// ErrInvalidMutation is returned for a mutation the projection cannot
	// express (unknown op or missing key).
	ErrInvalidMutation = errors.New("invalid mutation")
)
