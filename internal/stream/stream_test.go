package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

const (
	issLine1 = "1 25544U 98067A   20045.18587073  .00000950  00000-0  25302-4 0  9990"
	issLine2 = "2 25544  51.6465 225.6886 0003880 279.7398 160.7457 15.49165514212792"
)

var issEpoch = time.Date(2020, 2, 14, 4, 27, 39, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testPropagator(t *testing.T) *propagation.Propagator {
	t.Helper()
	es, err := tle.ParseLines("ISS (ZARYA)", issLine1, issLine2, 2020)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	store := tle.NewStore()
	store.Set(tle.NewCatalog("test", issEpoch, []tle.ElementSet{es}))
	return propagation.NewPropagator(store, propagation.Config{Workers: 1}, testLogger())
}

func testHandler(t *testing.T, source Source, cfg Config) *Handler {
	t.Helper()
	h := NewHandler(source, cfg, propagation.DefaultStaleAfter, testLogger())
	h.now = func() time.Time { return issEpoch }
	return h
}

// serveCancelled runs one stream whose context is already done, so the
// handler writes its opening messages and returns.
func serveCancelled(h *Handler, req Request) *httptest.ResponseRecorder {
	r := httptest.NewRequest("GET", "/api/v1/satellites/25544/stream", nil)
	r.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithCancel(r.Context())
	cancel()
	w := httptest.NewRecorder()
	h.Serve(w, r.WithContext(ctx), req)
	return w
}

// events returns the decoded "data:" payloads of an SSE body.
func events(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("invalid JSON in SSE data line %q: %v", line, err)
		}
		out = append(out, msg)
	}
	return out
}

func TestStreamWithObserver(t *testing.T) {
	h := testHandler(t, testPropagator(t), Config{})
	obs := transform.NewObserver(40.7128, -74.0060, 10)

	w := serveCancelled(h, Request{
		CatalogNumber: 25544,
		Interval:      time.Second,
		Observer:      &obs,
		Refraction:    transform.DefaultRefraction(),
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: ") {
		t.Errorf("body does not start with a retry hint: %q", body[:min(len(body), 20)])
	}

	msgs := events(t, body)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want metadata and one state", len(msgs))
	}

	meta := msgs[0]
	if meta["type"] != "metadata" {
		t.Fatalf("first message type = %v, want metadata", meta["type"])
	}
	if meta["catalog_number"].(float64) != 25544 {
		t.Errorf("catalog_number = %v", meta["catalog_number"])
	}
	if meta["name"] != "ISS (ZARYA)" {
		t.Errorf("name = %v", meta["name"])
	}
	if meta["stale"] != false {
		t.Errorf("stale = %v at epoch", meta["stale"])
	}
	if meta["refraction"] != true {
		t.Errorf("refraction = %v", meta["refraction"])
	}
	if _, ok := meta["observer"]; !ok {
		t.Error("metadata missing observer")
	}

	state := msgs[1]
	if state["type"] != "state" {
		t.Fatalf("second message type = %v, want state", state["type"])
	}
	if state["converged"] != true {
		t.Errorf("converged = %v", state["converged"])
	}
	geo := state["geodetic"].(map[string]any)
	if alt := geo["altitude_km"].(float64); alt < 380 || alt > 460 {
		t.Errorf("altitude = %.1f km, want ~420 km", alt)
	}
	look, ok := state["look"].(map[string]any)
	if !ok {
		t.Fatal("state missing look angles")
	}
	el := look["elevation"].(float64)
	if state["visible"] != (el > 0) {
		t.Errorf("visible = %v with elevation %.2f", state["visible"], el)
	}

	// Lines are data, retry, keepalive comments or blank separators.
	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" || strings.HasPrefix(line, "data: ") || strings.HasPrefix(line, "retry: ") {
			continue
		}
		t.Errorf("unexpected SSE line: %q", line)
	}
}

func TestStreamPositionOnly(t *testing.T) {
	h := testHandler(t, testPropagator(t), Config{})

	msgs := events(t, serveCancelled(h, Request{CatalogNumber: 25544, Interval: 5 * time.Second}).Body.String())
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if _, ok := msgs[0]["observer"]; ok {
		t.Error("metadata has observer without one requested")
	}
	if msgs[0]["interval_seconds"].(float64) != 5 {
		t.Errorf("interval_seconds = %v, want 5", msgs[0]["interval_seconds"])
	}
	if _, ok := msgs[1]["look"]; ok {
		t.Error("state has look angles without an observer")
	}
	if _, ok := msgs[1]["visible"]; ok {
		t.Error("state has visible without an observer")
	}
}

func TestStreamStaleElements(t *testing.T) {
	h := testHandler(t, testPropagator(t), Config{})
	h.now = func() time.Time { return issEpoch.Add(30 * 24 * time.Hour) }

	msgs := events(t, serveCancelled(h, Request{CatalogNumber: 25544, Interval: time.Second}).Body.String())
	if len(msgs) == 0 {
		t.Fatal("no messages")
	}
	if msgs[0]["stale"] != true {
		t.Errorf("stale = %v after 30 days", msgs[0]["stale"])
	}
	if age := msgs[0]["age_days"].(float64); age < 29.9 || age > 30.1 {
		t.Errorf("age_days = %v, want ~30", age)
	}
}

func TestStreamRejects(t *testing.T) {
	h := testHandler(t, testPropagator(t), Config{})

	tests := []struct {
		name string
		req  Request
		want int
	}{
		{"interval too short", Request{CatalogNumber: 25544, Interval: 500 * time.Millisecond}, http.StatusBadRequest},
		{"interval too long", Request{CatalogNumber: 25544, Interval: 2 * time.Minute}, http.StatusBadRequest},
		{"unknown object", Request{CatalogNumber: 99999, Interval: time.Second}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveCancelled(h, tt.req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

// failingSource propagates normally except that Position fails.
type failingSource struct {
	*propagation.Propagator
}

func (failingSource) Position(int, time.Time) (propagation.Position, error) {
	return propagation.Position{}, errors.New("object dropped from catalog")
}

// unconvergedSource returns the propagator's values flagged as unconverged.
type unconvergedSource struct {
	*propagation.Propagator
}

func (s unconvergedSource) Position(n int, t time.Time) (propagation.Position, error) {
	pos, _ := s.Propagator.Position(n, t)
	return pos, &orbit.ConvergenceError{Iterations: 500}
}

func (s unconvergedSource) Look(n int, obs transform.Observer, t time.Time, r transform.Refraction) (transform.LookAngles, error) {
	la, _ := s.Propagator.Look(n, obs, t, r)
	return la, &orbit.ConvergenceError{Iterations: 500}
}

func TestStreamUnconvergedIsFlagged(t *testing.T) {
	prop := testPropagator(t)
	h := testHandler(t, unconvergedSource{prop}, Config{})
	obs := transform.NewObserver(40.7128, -74.0060, 10)

	msgs := events(t, serveCancelled(h, Request{CatalogNumber: 25544, Interval: time.Second, Observer: &obs}).Body.String())
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want metadata and one state", len(msgs))
	}
	state := msgs[1]
	if state["type"] != "state" {
		t.Fatalf("second message type = %v, want state", state["type"])
	}
	if state["converged"] != false {
		t.Errorf("converged = %v, want false", state["converged"])
	}

	want, err := prop.Look(25544, obs, issEpoch, transform.Refraction{})
	if err != nil {
		t.Fatalf("Look: %v", err)
	}
	look, ok := state["look"].(map[string]any)
	if !ok {
		t.Fatal("state missing look angles")
	}
	if got := look["range_km"].(float64); math.Abs(got-want.Range) > 1e-6 {
		t.Errorf("range_km = %v, want %v from the last iterate", got, want.Range)
	}
}

func TestStreamPropagationErrorEndsStream(t *testing.T) {
	h := testHandler(t, failingSource{testPropagator(t)}, Config{})

	r := httptest.NewRequest("GET", "/api/v1/satellites/25544/stream", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(w, r, Request{CatalogNumber: 25544, Interval: time.Second})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after a propagation error")
	}

	msgs := events(t, w.Body.String())
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want metadata and error", len(msgs))
	}
	if msgs[1]["type"] != "error" || msgs[1]["error"] != "object dropped from catalog" {
		t.Errorf("last message = %v", msgs[1])
	}
	if h.limiter.active() != 0 {
		t.Errorf("limiter still holds %d connections", h.limiter.active())
	}
}

func TestStreamLimitHTTPResponse(t *testing.T) {
	h := testHandler(t, testPropagator(t), Config{MaxConcurrentPerIP: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r := httptest.NewRequest("GET", "/api/v1/satellites/25544/stream", nil).WithContext(ctx)
		r.RemoteAddr = "10.0.0.1:12345"
		h.Serve(httptest.NewRecorder(), r, Request{CatalogNumber: 25544, Interval: time.Minute})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.limiter.count("10.0.0.1") == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("first stream never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second stream from the same address is refused.
	r := httptest.NewRequest("GET", "/api/v1/satellites/25544/stream", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.Serve(w, r, Request{CatalogNumber: 25544, Interval: time.Second})

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
	if c := h.limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after disconnect = %d, want 0", c)
	}
}

func TestStreamLimiter(t *testing.T) {
	limiter := newStreamLimiter(3, 4)

	for i := 0; i < 3; i++ {
		if reason := limiter.acquire("10.0.0.1"); reason != "" {
			t.Fatalf("acquire %d refused: %s", i+1, reason)
		}
	}
	if reason := limiter.acquire("10.0.0.1"); reason != "limit_ip" {
		t.Errorf("acquire beyond per-IP limit = %q, want limit_ip", reason)
	}
	if reason := limiter.acquire("10.0.0.2"); reason != "" {
		t.Errorf("different IP refused: %s", reason)
	}
	if reason := limiter.acquire("10.0.0.3"); reason != "limit_total" {
		t.Errorf("acquire beyond global limit = %q, want limit_total", reason)
	}

	limiter.release("10.0.0.1")
	if reason := limiter.acquire("10.0.0.3"); reason != "" {
		t.Errorf("acquire after release refused: %s", reason)
	}

	if c := limiter.count("10.0.0.1"); c != 2 {
		t.Errorf("count = %d, want 2", c)
	}
	if a := limiter.active(); a != 4 {
		t.Errorf("active = %d, want 4", a)
	}
}

func TestStreamLimiterConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") == "" {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
	if a := limiter.active(); a != 0 {
		t.Errorf("active after all released = %d, want 0", a)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxConcurrentPerIP != DefaultMaxPerIP || cfg.MaxTotal != DefaultMaxTotal || cfg.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("withDefaults() = %+v", cfg)
	}
}
