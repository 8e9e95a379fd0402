package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-asr/internal/asr"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/eventstore"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

type fakeSessions struct {
	sessions []asr.SessionInfo
	pooled   int
}

func (f fakeSessions) Sessions() []asr.SessionInfo { return f.sessions }
func (f fakeSessions) PooledWorkers() int          { return f.pooled }

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return New(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.TelemetryConfig{LogLevel: "info", LogFormat: "json"}, &buf)
	logger.Debug("hidden")
	logger.Info("hello", slog.String("site_id", "kitchen"))
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"site_id":"kitchen"`) {
		t.Fatalf("unexpected json output: %s", out)
	}

	buf.Reset()
	logger = NewLogger(config.TelemetryConfig{LogLevel: "debug", LogFormat: "console"}, &buf)
	logger.Debug("verbose detail")
	if !strings.Contains(buf.String(), "verbose detail") {
		t.Fatalf("unexpected console output: %q", buf.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	rt := newTestRuntime(t)
	h := rt.routes()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start: %d", rec.Code)
	}
	rt.ready.Store(true)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz after start: %d", rec.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	rt := newTestRuntime(t)
	h := rt.routes()
	if rec := get(t, h, "/v1/sessions"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("sessions without service: %d", rec.Code)
	}

	rt.sessions = fakeSessions{
		sessions: []asr.SessionInfo{{SiteID: "kitchen", SessionID: protocol.NamedSession("s1"), StopOnSilence: true}},
		pooled:   2,
	}
	rec := get(t, h, "/v1/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: %d", rec.Code)
	}
	var sessions []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0]["site_id"] != "kitchen" || sessions[0]["session_id"] != "s1" {
		t.Fatalf("unexpected sessions %v", sessions)
	}

	rec = get(t, h, "/v1/status")
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PooledWorkers != 2 || len(status.Sessions) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)
	h := rt.routes()
	if rec := get(t, h, "/v1/events"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("events without store: %d", rec.Code)
	}

	store, err := eventstore.Open(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, rt.logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rt.events = store

	for _, evt := range []protocol.Event{
		protocol.TextCaptured{Text: "lights on", SiteID: "kitchen", SessionID: protocol.NamedSession("s1")},
		protocol.TextCaptured{Text: "lights off", SiteID: "hall", SessionID: protocol.NamedSession("s2")},
		protocol.RecordingFinished{SiteID: "kitchen", SessionID: protocol.NamedSession("s3")},
	} {
		if err := store.Publish(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	cases := []struct {
		target string
		code   int
		count  int
	}{
		{"/v1/events", http.StatusOK, 3},
		{"/v1/events?site=kitchen", http.StatusOK, 2},
		{"/v1/events?session=s2", http.StatusOK, 1},
		{"/v1/events?site=kitchen&limit=1", http.StatusOK, 1},
		{"/v1/events?site=garage", http.StatusOK, 0},
		{"/v1/events?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		rec := get(t, h, tc.target)
		if rec.Code != tc.code {
			t.Fatalf("%s: status %d", tc.target, rec.Code)
		}
		if tc.code != http.StatusOK {
			continue
		}
		var events []eventstore.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
			t.Fatalf("%s: decode: %v", tc.target, err)
		}
		if len(events) != tc.count {
			t.Fatalf("%s: expected %d events, got %d", tc.target, tc.count, len(events))
		}
	}
}
