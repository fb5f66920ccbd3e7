package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_FailoverResetsIndexOnNextCall(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"v"}`))
	}))
	defer good.Close()

	c, err := NewClient([]Endpoint{{URL: bad.URL}, {URL: good.URL}}, Config{MinSpacing: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	info, err := c.GetHubInfo(context.Background())
	if err != nil {
		t.Fatalf("GetHubInfo: %v", err)
	}
	if info.Version != "v" {
		t.Fatalf("version = %q, want %q", info.Version, "v")
	}
	if got := c.currentHub; got != 0 {
		t.Fatalf("currentHub after success = %d, want 0", got)
	}

	// Next call should try hub 0 again (and fail over again), proving the
	// index reset rather than "sticking" on the last-good hub.
	info2, err := c.GetHubInfo(context.Background())
	if err != nil {
		t.Fatalf("second GetHubInfo: %v", err)
	}
	if info2.Version != "v" {
		t.Fatalf("version = %q, want %q", info2.Version, "v")
	}
}

func TestClient_AllHubsFailedAfterRetries(t *testing.T) {
	var calls int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	c, err := NewClient([]Endpoint{{URL: bad.URL}}, Config{MinSpacing: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = c.GetHubInfo(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var hubErr *HubError
	if !asHubError(err, &hubErr) {
		t.Fatalf("expected *HubError, got %T: %v", err, err)
	}
	if hubErr.Kind != HubErrAllHubsFailed {
		t.Fatalf("kind = %v, want %v", hubErr.Kind, HubErrAllHubsFailed)
	}
	// 3 attempts with 1s/2s backoff between them should take at least ~3s;
	// we only assert it actually retried rather than failing instantly.
	if time.Since(start) < 2*time.Second {
		t.Fatalf("expected retries with backoff, took %v", time.Since(start))
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 calls across retries, got %d", calls)
	}
}

func TestClient_RateLimitRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"v"}`))
	}))
	defer srv.Close()

	c, err := NewClient([]Endpoint{{URL: srv.URL}}, Config{MinSpacing: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = c.GetHubInfo(context.Background())
	if err != nil {
		t.Fatalf("GetHubInfo: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected to suspend >= 1s after 429 Retry-After, elapsed %v", elapsed)
	}
}

func asHubError(err error, target **HubError) bool {
	he, ok := err.(*HubError)
	if !ok {
		return false
	}
	*target = he
	return true
}
