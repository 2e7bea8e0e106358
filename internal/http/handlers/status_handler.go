// Status HTTP handlers.
//
// This file exposes the read-only JSON API over the status projection:
//   - GET /statuses               (latest status per author, ETag support)
//   - GET /statuses/{did}         (an author's current status)
//   - GET /statuses/{did}/history (an author's statuses, newest first)
//   - GET /health                 (liveness plus firehose consumer state)
//
// Handlers are transport-thin: they validate input, call the feed service,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-statusphere/internal/domain"
	"github.com/tbourn/go-statusphere/internal/ingest"
	"github.com/tbourn/go-statusphere/internal/services"
	"github.com/tbourn/go-statusphere/internal/utils"
)

// maxDIDLength matches the author_did column width.
const maxDIDLength = 256

//
// Service contracts (context-aware)
//

// FeedService defines the projection queries consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type FeedService interface {
	// LatestStatuses returns each author's current status, newest first.
	LatestStatuses(ctx context.Context, limit int, before *time.Time) ([]domain.Status, error)
	// StatusFor returns an author's current status or services.ErrStatusNotFound.
	StatusFor(ctx context.Context, did string) (*domain.Status, error)
	// History returns an author's statuses, newest first.
	History(ctx context.Context, did string, limit int) ([]domain.Status, error)
	// Version identifies the current projection state for ETags.
	Version(ctx context.Context) (services.FeedVersion, error)
}

// ConsumerStatus reports the health of the firehose consumer.
type ConsumerStatus interface {
	State() ingest.State
	Err() error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the query API.
type Handlers struct {
	feed     FeedService
	consumer ConsumerStatus
}

// New constructs Handlers. consumer may be nil when the API runs without an
// ingest pipeline; health then reports only liveness.
func New(feed FeedService, consumer ConsumerStatus) *Handlers {
	return &Handlers{feed: feed, consumer: consumer}
}

//
// DTOs
//

// ListStatusesResponse is one page of the global feed. NextBefore, when set,
// is the value to pass as ?before= to fetch the following page.
type ListStatusesResponse struct {
	Statuses   []domain.Status `json:"statuses"`
	NextBefore *time.Time      `json:"next_before,omitempty"`
}

// HistoryResponse lists one author's statuses.
type HistoryResponse struct {
	DID      string          `json:"did"`
	Statuses []domain.Status `json:"statuses"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	ConsumerState string `json:"consumer_state,omitempty"`
	Error         string `json:"error,omitempty"`
}

//
// Helpers
//

// parseBefore reads the optional ?before= cursor (RFC 3339).
func parseBefore(c *gin.Context) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query("before"))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// didParam returns the :did path parameter if it looks like a DID.
func didParam(c *gin.Context) (string, bool) {
	did := c.Param("did")
	if !strings.HasPrefix(did, "did:") || len(did) <= len("did:") || len(did) > maxDIDLength {
		return "", false
	}
	return did, true
}

// feedETag builds a weak ETag from the projection version and the page inputs.
func feedETag(v services.FeedVersion, limit int, before *time.Time) string {
	var maxTS, beforeTS int64
	if v.MaxIndexedAt != nil {
		maxTS = v.MaxIndexedAt.UnixMicro()
	}
	if before != nil {
		beforeTS = before.UnixMicro()
	}
	return fmt.Sprintf(`W/"statuses:%d:%d:%d:%d"`, v.Count, maxTS, limit, beforeTS)
}

// queryFailed maps a feed error to 503 when the request ran out of time and
// to 500 otherwise.
func queryFailed(c *gin.Context, msg string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		failErr(c, http.StatusServiceUnavailable, ErrCodeUnavailable, msg, err)
		return
	}
	failErr(c, http.StatusInternalServerError, ErrCodeQueryFailed, msg, err)
}

//
// Handlers
//

// ListStatuses godoc
// @ID          listStatuses
// @Summary     Latest status per author (paginated)
// @Description Returns the most recent status of each author, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Statuses
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"           example(W/\"statuses:3:1730808000000000:10:0\")
// @Param       limit          query   int     false "Items per page"                       minimum(1) maximum(100) default(10)
// @Param       before         query   string  false "Only statuses indexed before (RFC 3339)" format(date-time)
//
// @Success     200  {object} handlers.ListStatusesResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Header      200  {string} Cache-Control  "Caching directives"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Failure     503  {object} handlers.ErrorResponse "Query timed out"
// @Router      /statuses [get]
func (h *Handlers) ListStatuses(c *gin.Context) {
	ctx := c.Request.Context()
	limit := services.ClampLimit(utils.AtoiDefault(c.Query("limit"), services.DefaultFeedLimit))
	before, err := parseBefore(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before must be an RFC 3339 timestamp")
		return
	}

	// ETag pre-check (best effort).
	if v, err := h.feed.Version(ctx); err == nil {
		etag := feedETag(v, limit, before)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.feed.LatestStatuses(ctx, limit, before)
	if err != nil {
		queryFailed(c, "failed to query statuses", err)
		return
	}

	resp := ListStatusesResponse{Statuses: items}
	if len(items) == limit {
		next := items[len(items)-1].IndexedAt
		resp.NextBefore = &next
	}
	ok(c, http.StatusOK, resp)
}

// GetStatus godoc
// @ID          getStatus
// @Summary     Current status of an author
// @Tags        Statuses
// @Produce     json
//
// @Param       did  path  string  true  "Author DID"  example(did:plc:alice)
//
// @Success     200  {object} domain.Status
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "No status for author"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /statuses/{did} [get]
func (h *Handlers) GetStatus(c *gin.Context) {
	did, valid := didParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "did must start with did:")
		return
	}

	st, err := h.feed.StatusFor(c.Request.Context(), did)
	switch {
	case errors.Is(err, services.ErrStatusNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no status for "+did)
		return
	case err != nil:
		queryFailed(c, "failed to query status", err)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetHistory godoc
// @ID          getStatusHistory
// @Summary     Status history of an author
// @Description Returns up to limit statuses of one author, newest first. An unknown author yields an empty list.
// @Tags        Statuses
// @Produce     json
//
// @Param       did    path   string  true   "Author DID"      example(did:plc:alice)
// @Param       limit  query  int     false  "Items to return" minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.HistoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /statuses/{did}/history [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	did, valid := didParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "did must start with did:")
		return
	}
	limit := services.ClampLimit(utils.AtoiDefault(c.Query("limit"), services.DefaultFeedLimit))

	items, err := h.feed.History(c.Request.Context(), did, limit)
	if err != nil {
		queryFailed(c, "failed to query history", err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{DID: did, Statuses: items})
}

// Health godoc
// @ID          health
// @Summary     Liveness and consumer state
// @Description Reports liveness and the firehose consumer state. A consumer that stopped on a fatal error turns the endpoint into 503.
// @Tags        Health
// @Produce     json
//
// @Success     200  {object} handlers.HealthResponse
// @Failure     503  {object} handlers.HealthResponse "Consumer failed"
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	if h.consumer == nil {
		ok(c, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	resp := HealthResponse{Status: "ok", ConsumerState: h.consumer.State().String()}
	if err := h.consumer.Err(); err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	ok(c, http.StatusOK, resp)
}
