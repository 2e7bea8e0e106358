package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// captureLogger swaps the global logger for a JSON buffer for the test.
func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes one JSON object per line.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func accessRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	return r
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen any
	r.GET("/health", func(c *gin.Context) {
		seen, _ = c.Get(requestIDKey)
		c.Status(http.StatusNoContent)
	})

	cases := map[string]struct {
		header, value string
		keep          bool
	}{
		"generated":  {"", "", false},
		"canonical":  {requestIDHeader, "Z-REQ-123", true},
		"lower case": {"x-request-id", "abc-123", true},
		"oversized":  {requestIDHeader, strings.Repeat("a", maxRequestIDLength+1), false},
		"spaces":     {requestIDHeader, "abc 123", false},
		"non-ascii":  {requestIDHeader, "réq-1", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if tc.keep && got != tc.value {
				t.Fatalf("header = %q; want %q", got, tc.value)
			}
			if !tc.keep {
				if _, err := uuid.Parse(got); err != nil {
					t.Fatalf("want generated uuid, got %q", got)
				}
			}
			if seen != got {
				t.Fatalf("context id %v != header %q", seen, got)
			}
		})
	}
}

func TestLogger_LevelsAndFields(t *testing.T) {
	buf := captureLogger(t)
	r := accessRouter()
	r.GET("/statuses/:did", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/statuses", func(c *gin.Context) {
		_ = c.Error(errors.New("database is locked"))
		c.Status(http.StatusInternalServerError)
	})

	for _, target := range []string{"/statuses/did:plc:alice?limit=3", "/missing", "/statuses"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	lines := logLines(t, buf)
	if len(lines) != 3 {
		t.Fatalf("want 3 access lines, got %d", len(lines))
	}

	ok := lines[0]
	if ok["level"] != "info" || ok["path"] != "/statuses/:did" || ok["did"] != "did:plc:alice" ||
		ok["query"] != "limit=3" || ok["status"] != float64(200) || ok["request_id"] == "" {
		t.Fatalf("unexpected info line: %v", ok)
	}
	if miss := lines[1]; miss["level"] != "warn" || miss["path"] != "/missing" {
		t.Fatalf("unexpected 404 line: %v", miss)
	}
	if _, hasDID := lines[1]["did"]; hasDID {
		t.Fatalf("did logged on a route without it: %v", lines[1])
	}
	if e := lines[2]; e["level"] != "error" || e["errors"] == nil {
		t.Fatalf("unexpected error line: %v", e)
	}
}

func TestLogger_IncludesTraceID(t *testing.T) {
	buf := captureLogger(t)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := accessRouter()
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "req")
	defer span.End()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx))

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("trace_id missing: %v", lines)
	}
}

func TestRecovery(t *testing.T) {
	buf := captureLogger(t)
	r := accessRouter()
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	r.GET("/panic-after-write", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(requestIDHeader, "rid-p")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-p" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Once written, the body is left alone.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic-after-write", nil))
	if w.Body.String() != "partial" {
		t.Fatalf("body rewritten after panic: %q", w.Body.String())
	}

	panics := 0
	for _, l := range logLines(t, buf) {
		if l["message"] == "panic recovered" {
			panics++
			if l["stack"] == nil || l["request_id"] == nil {
				t.Fatalf("panic logged without stack or request id: %v", l)
			}
		}
	}
	if panics != 2 {
		t.Fatalf("want 2 panic logs, got %d", panics)
	}
}

func TestLoggerFrom(t *testing.T) {
	buf := captureLogger(t)
	gin.SetMode(gin.TestMode)

	emit := func(c *gin.Context) { LoggerFrom(c).Info().Msg("custom"); c.Status(http.StatusOK) }

	bare := gin.New()
	bare.GET("/x", emit)
	bare.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	scoped := accessRouter()
	scoped.GET("/x", emit)
	scoped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var custom []map[string]any
	for _, l := range logLines(t, buf) {
		if l["message"] == "custom" {
			custom = append(custom, l)
		}
	}
	if len(custom) != 2 {
		t.Fatalf("want 2 custom lines, got %d", len(custom))
	}
	if _, ok := custom[0]["request_id"]; ok {
		t.Fatalf("fallback logger carried request fields: %v", custom[0])
	}
	if custom[1]["request_id"] == nil || custom[1]["path"] != "/x" {
		t.Fatalf("scoped logger missing request fields: %v", custom[1])
	}
}

func TestAccessLevel(t *testing.T) {
	cases := []struct {
		status int
		errs   bool
		want   zerolog.Level
	}{
		{http.StatusOK, false, zerolog.InfoLevel},
		{http.StatusNotModified, false, zerolog.InfoLevel},
		{http.StatusNotFound, false, zerolog.WarnLevel},
		{http.StatusTooManyRequests, false, zerolog.WarnLevel},
		{http.StatusServiceUnavailable, false, zerolog.ErrorLevel},
		{http.StatusOK, true, zerolog.ErrorLevel},
	}
	for _, tc := range cases {
		if got := accessLevel(tc.status, tc.errs); got != tc.want {
			t.Errorf("accessLevel(%d, %v) = %v, want %v", tc.status, tc.errs, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	for in, want := range map[[2]any]string{
		{"hello", 10}:   "hello",
		{"abcdefgh", 5}: "abcde…",
		{"abc", 0}:      "abc",
	} {
		if got := truncate(in[0].(string), in[1].(int)); got != want {
			t.Fatalf("truncate(%q, %d) = %q; want %q", in[0], in[1], got, want)
		}
	}
}
