package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/statuses", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "up") })
	return r
}

func hit(r http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:12345"

	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByIP(), "/health")
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if !rl.exempt["/health"] || rl.exempt["/statuses"] {
		t.Fatalf("exempt = %v", rl.exempt)
	}
	if a, b := rl.limiterFor("k"), rl.limiterFor("k"); a != b {
		t.Fatal("bucket not reused for the same key")
	}
	if rl.limiterFor("k") == rl.limiterFor("other") {
		t.Fatal("distinct keys share a bucket")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByIP())
	clock := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return clock }
	rl.lastSweep = clock

	rl.limiterFor("idle")
	clock = clock.Add(bucketIdleTTL / 2)
	rl.limiterFor("busy")

	// Past one TTL since the last sweep: "idle" expires, "busy" does not.
	clock = clock.Add(bucketIdleTTL/2 + time.Second)
	rl.limiterFor("fresh")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["idle"]; ok {
		t.Error("idle bucket survived the sweep")
	}
	for _, k := range []string{"busy", "fresh"} {
		if _, ok := rl.buckets[k]; !ok {
			t.Errorf("bucket %q was evicted", k)
		}
	}
}

func TestRateLimiter_RejectsOverBudget(t *testing.T) {
	r := limitedRouter(NewRateLimiter(1, 1, KeyByIP(), "/health"))

	if w := hit(r, "/statuses", "198.51.100.1:1"); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := hit(r, "/statuses", "198.51.100.1:2")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("body = %v", body)
	}

	// Another client has its own bucket.
	if w := hit(r, "/statuses", "198.51.100.2:1"); w.Code != http.StatusOK {
		t.Fatalf("other client: %d", w.Code)
	}
	// Exempt routes are never charged.
	for i := 0; i < 3; i++ {
		if w := hit(r, "/health", "198.51.100.1:3"); w.Code != http.StatusOK {
			t.Fatalf("health attempt %d: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_RetryAfterFollowsRate(t *testing.T) {
	cases := map[string]struct {
		rps  float64
		want string
	}{
		"fast":      {50, "1"},
		"one":       {1, "1"},
		"slow":      {0.25, "4"},
		"fractions": {0.3, "4"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := NewRateLimiter(tc.rps, 1, KeyByIP()).retryAfter(); got != tc.want {
				t.Fatalf("retryAfter(%v) = %q, want %q", tc.rps, got, tc.want)
			}
		})
	}
}

func TestRateLimiter_ZeroRateDisables(t *testing.T) {
	r := limitedRouter(NewRateLimiter(0, 1, KeyByIP()))
	for i := 0; i < 5; i++ {
		if w := hit(r, "/statuses", "198.51.100.7:1"); w.Code != http.StatusOK {
			t.Fatalf("attempt %d: %d", i, w.Code)
		}
	}
}
