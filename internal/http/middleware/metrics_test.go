package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.handler())
	r.GET("/statuses/:did", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{
		"/statuses/did:plc:alice",
		"/statuses/did:plc:bob",
		"/scanner/probe.php",
		"/empty",
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := []struct {
		route, status string
		want          float64
	}{
		{"/statuses/:did", "200", 2},
		{unmatchedPath, "404", 1},
		{"/empty", "204", 1},
	}
	for _, tc := range counts {
		if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", tc.route, tc.status)); got != tc.want {
			t.Errorf("requests{%s,%s} = %v, want %v", tc.route, tc.status, got, tc.want)
		}
	}
	// Two routes plus "unmatched"; DIDs never become labels.
	if n := testutil.CollectAndCount(m.requests); n != 3 {
		t.Errorf("request series = %d, want 3", n)
	}
	if n := testutil.CollectAndCount(m.duration); n != 3 {
		t.Errorf("duration series = %d, want 3", n)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Errorf("inflight = %v after requests finished", got)
	}
}

func TestMetrics_SkipsUnknownSize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.handler())
	r.GET("/body", func(c *gin.Context) { c.String(http.StatusOK, "0123456789") })
	r.GET("/nobody", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/body", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nobody", nil))

	if n := testutil.CollectAndCount(m.size); n != 1 {
		t.Fatalf("size series = %d, want only /body", n)
	}
}

func TestMetrics_InflightDuringRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry())

	var during float64
	r := gin.New()
	r.Use(m.handler())
	r.GET("/slow", func(c *gin.Context) {
		during = testutil.ToFloat64(m.inflight)
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	if during != 1 {
		t.Fatalf("inflight during request = %v, want 1", during)
	}
}
