package status

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type fakeSource struct {
	snap   Snapshot
	output []string
}

func (f *fakeSource) Status() Snapshot  { return f.snap }
func (f *fakeSource) Output() []string { return f.output }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)}))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	src := &fakeSource{snap: Snapshot{State: "running", Relay: "connected"}}
	h := NewServer(src, testLogger()).Handler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	src.snap.State = "failed"
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when failed, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src := &fakeSource{snap: Snapshot{
		Version:    "1.0.0",
		State:      "running",
		Relay:      "connected",
		Branch:     "main",
		PID:        4242,
		ChildSince: &since,
		LastCycle:  &Cycle{ID: "c1", Started: since, Finished: since.Add(time.Second), PID: 4242},
		LastWake:   &since,
	}}
	rec := get(t, NewServer(src, testLogger()).Handler(), "/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var got Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.PID != 4242 || got.State != "running" || got.Branch != "main" {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if got.ChildSince == nil || !got.ChildSince.Equal(since) {
		t.Errorf("unexpected child_since %v", got.ChildSince)
	}
	if got.LastCycle == nil || got.LastCycle.ID != "c1" || got.LastCycle.PID != 4242 || !got.LastCycle.Finished.Equal(since.Add(time.Second)) {
		t.Errorf("unexpected last_cycle %+v", got.LastCycle)
	}
	if got.Sleeping || got.LastWake == nil || !got.LastWake.Equal(since) {
		t.Errorf("unexpected sleep fields sleeping=%v last_wake=%v", got.Sleeping, got.LastWake)
	}
	for _, key := range []string{`"last_cycle":{"id":"c1"`, `"sleeping":false`, `"last_wake":`} {
		if !strings.Contains(rec.Body.String(), key) {
			t.Errorf("expected %s in %s", key, rec.Body.String())
		}
	}
}

func TestOutput(t *testing.T) {
	src := &fakeSource{output: []string{"one", "two", "three"}}
	h := NewServer(src, testLogger()).Handler()

	tests := []struct {
		path string
		code int
		want string
	}{
		{"/output", 200, "one\ntwo\nthree\n"},
		{"/output?lines=2", 200, "two\nthree\n"},
		{"/output?lines=10", 200, "one\ntwo\nthree\n"},
		{"/output?lines=0", 200, ""},
		{"/output?lines=-1", 400, ""},
		{"/output?lines=abc", 400, ""},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path)
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, rec.Code)
			continue
		}
		if tt.code == 200 && rec.Body.String() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.path, rec.Body.String(), tt.want)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := get(t, NewServer(&fakeSource{}, testLogger()).Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default registry metrics")
	}
}

func TestUnknownRoute(t *testing.T) {
	if rec := get(t, NewServer(&fakeSource{}, testLogger()).Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(&fakeSource{snap: Snapshot{State: "idle"}}, testLogger()).Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
