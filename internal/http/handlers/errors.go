// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and give clients a stable, machine-readable
// taxonomy next to the human-readable message. The middleware chain emits
// two more with the same envelope: too_many_requests from the rate limiter
// and internal_error from panic recovery.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "no status for did:plc:abc"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeQueryFailed reports a projection query error.
	ErrCodeQueryFailed = "query_failed"
	// ErrCodeUnavailable reports a query that ran out of time, typically
	// while the store was busy with a write.
	ErrCodeUnavailable = "unavailable"
)
