package sysutil

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestSlogHandler_WritesAttrsAndGroups(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	lg := NewSlogLogger(zerolog.New(&buf)).With("service", "ingest").WithGroup("supervisor")
	lg.Warn("service failed",
		"restarts", 3,
		"backoff", 2*time.Second,
		"err", errors.New("boom"),
		slog.Group("tree", "name", "root"),
	)

	m := decodeLine(t, &buf)
	if m["level"] != "warn" || m["message"] != "service failed" {
		t.Fatalf("unexpected level/message: %v", m)
	}
	if m["service"] != "ingest" {
		t.Fatalf("pre-group attr should not be prefixed: %v", m)
	}
	if m["supervisor.restarts"] != float64(3) {
		t.Fatalf("grouped int attr missing: %v", m)
	}
	if m["supervisor.err"] != "boom" {
		t.Fatalf("error attr missing: %v", m)
	}
	if m["supervisor.tree.name"] != "root" {
		t.Fatalf("nested group attr missing: %v", m)
	}
}

func TestSlogHandler_RespectsLevels(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	lg := NewSlogLogger(zerolog.New(&buf))
	lg.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record should be filtered, got %q", buf.String())
	}
	lg.Error("shown")
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("error record missing: %q", buf.String())
	}
}

func TestSetupLogger_JSONAndPretty(t *testing.T) {
	orig, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(orig)
		log.Logger = origLogger
	})

	var buf bytes.Buffer
	SetupLogger(&buf, "debug", false)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("level not applied")
	}
	log.Info().Msg("json line")
	m := decodeLine(t, &buf)
	if m["message"] != "json line" || m["time"] == nil {
		t.Fatalf("unexpected json log: %v", m)
	}

	buf.Reset()
	SetupLogger(&buf, "info", true)
	log.Info().Msg("pretty line")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "pretty line") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}
