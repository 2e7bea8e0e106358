// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// SecurityHeaders hardens the JSON API responses. The header set is computed
// once when the middleware is built; per request only HSTS (which depends on
// the scheme) and the X-Request-ID exposure are evaluated.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// defaultHSTSMaxAge is used when SecurityOptions.HSTSMaxAge is not positive.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	// Enable it only when TLS reaches the process or a trusted proxy sets
	// X-Forwarded-Proto.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStore forbids caching (Cache-Control: no-store, Pragma, Expires).
	NoStore bool
	// Revalidate lets clients cache but forces If-None-Match revalidation
	// (Cache-Control: no-cache). Ignored when NoStore is set.
	Revalidate bool
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
}

// securityHeaders is the static part of the header set.
func (o SecurityOptions) securityHeaders() [][2]string {
	hs := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if o.EnablePolicy {
		hs = append(hs,
			[2]string{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
			[2]string{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}
	switch {
	case o.NoStore:
		hs = append(hs,
			[2]string{"Cache-Control", "no-store"},
			[2]string{"Pragma", "no-cache"},
			[2]string{"Expires", "0"},
		)
	case o.Revalidate:
		hs = append(hs, [2]string{"Cache-Control", "no-cache"})
	}
	return hs
}

// hstsValue renders the Strict-Transport-Security header.
func (o SecurityOptions) hstsValue() string {
	age := o.HSTSMaxAge
	if age <= 0 {
		age = defaultHSTSMaxAge
	}
	return "max-age=" + strconv.Itoa(int(age.Seconds())) + "; includeSubDomains; preload"
}

// SecurityHeaders returns a middleware that sets conservative security
// headers on every response. No Content-Security-Policy is sent since the
// API never serves HTML. When the response already carries X-Request-ID it is
// added to Access-Control-Expose-Headers so browser clients can read it.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	static := opt.securityHeaders()
	hsts := opt.hstsValue()

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range static {
			h.Set(kv[0], kv[1])
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}
		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers unless present.
func exposeHeader(h http.Header, name string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	switch {
	case cur == "":
		h.Set(key, name)
	case !strings.Contains(cur, name):
		h.Set(key, cur+", "+name)
	}
}

// isHTTPS reports whether the request arrived over TLS directly or through a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
