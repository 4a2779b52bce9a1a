package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nranderson/doggydoor/internal/door"
	"github.com/nranderson/doggydoor/internal/infrastructure/config"
	"github.com/nranderson/doggydoor/internal/infrastructure/database"
	"github.com/nranderson/doggydoor/internal/infrastructure/logging"
	"github.com/nranderson/doggydoor/internal/lock"
	"github.com/nranderson/doggydoor/internal/proximity"
)

// fakeDoor records override calls and serves a fixed snapshot.
type fakeDoor struct {
	mu        sync.Mutex
	snapshot  door.Snapshot
	lockErr   error
	unlockErr error
	locks     int
	unlocks   int
}

func (f *fakeDoor) Snapshot() door.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeDoor) ForceLock(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locks++
	return nil
}

func (f *fakeDoor) ForceUnlock(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlockErr != nil {
		return f.unlockErr
	}
	f.unlocks++
	return nil
}

// fakeStore serves scripted journal rows.
type fakeStore struct {
	events   []database.Event
	err      error
	lastKind string
}

func (f *fakeStore) RecentEvents(_ context.Context, kind string, _ int) ([]database.Event, error) {
	f.lastKind = kind
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func newTestServer(t *testing.T, d *fakeDoor, store EventStore, token string) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config:  config.APIConfig{Token: token},
		Logger:  logging.Default(),
		Door:    d,
		Store:   store,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func defaultSnapshot() door.Snapshot {
	return door.Snapshot{
		Lock:    lock.Status{State: lock.StateLocked},
		Monitor: proximity.Status{State: proximity.StateScanning, LastRSSI: -55},
		Uptime:  90 * time.Second,
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeDoor{snapshot: defaultSnapshot()}, nil, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok, version test", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	d := &fakeDoor{snapshot: defaultSnapshot()}
	d.snapshot.Lock.UnlockedAt = time.Now().Add(-time.Minute)
	d.snapshot.Lock.State = lock.StateUnlocked
	d.snapshot.Lock.RelockArmed = true
	d.snapshot.Monitor.Close = true
	d.snapshot.Monitor.DistanceFeet = 2.7
	d.snapshot.TagsSeen = 2

	srv := newTestServer(t, d, nil, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Lock.State != "unlocked" || !body.Lock.RelockArmed {
		t.Errorf("lock = %+v, want unlocked with relock armed", body.Lock)
	}
	if body.Lock.UnlockedAt == "" {
		t.Error("UnlockedAt missing, want RFC3339 timestamp")
	}
	if !body.Proximity.Close || body.Proximity.DistanceFeet == nil || *body.Proximity.DistanceFeet != 2.7 {
		t.Errorf("proximity = %+v, want close at 2.7ft", body.Proximity)
	}
	if body.TagsSeen != 2 {
		t.Errorf("TagsSeen = %d, want 2", body.TagsSeen)
	}
}

func TestStatusOmitsInfiniteDistance(t *testing.T) {
	d := &fakeDoor{snapshot: defaultSnapshot()}
	// Zero-value monitor snapshot before any detection carries +Inf.
	d.snapshot.Monitor.DistanceFeet = math.Inf(1)

	srv := newTestServer(t, d, nil, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Proximity.DistanceFeet != nil {
		t.Errorf("DistanceFeet = %v, want omitted", *body.Proximity.DistanceFeet)
	}
}

func TestLockUnlockEndpoints(t *testing.T) {
	d := &fakeDoor{snapshot: defaultSnapshot()}
	srv := newTestServer(t, d, nil, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/unlock", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /unlock error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unlock status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/lock", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /lock error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("lock status = %d, want 200", resp.StatusCode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unlocks != 1 || d.locks != 1 {
		t.Errorf("calls = %d unlocks, %d locks, want 1 each", d.unlocks, d.locks)
	}
}

func TestLockEndpointActuationFailure(t *testing.T) {
	d := &fakeDoor{snapshot: defaultSnapshot(), lockErr: errors.New("bridge unreachable")}
	srv := newTestServer(t, d, nil, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/lock", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /lock error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	var e Error
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if e.Code != ErrCodeActuation {
		t.Errorf("error code = %q, want %q", e.Code, ErrCodeActuation)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	d := &fakeDoor{snapshot: defaultSnapshot()}
	srv := newTestServer(t, d, nil, "secret-token")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	// Health stays open.
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"malformed header", "secret-token", http.StatusUnauthorized},
		{"valid token", "Bearer secret-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", nil)
			if err != nil {
				t.Fatalf("building request: %v", err)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET /status error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestEventsEndpoint(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{events: []database.Event{
		{ID: "1", Kind: database.EventKindLock, State: "locked", Detail: "timeout", CreatedAt: now},
	}}
	srv := newTestServer(t, &fakeDoor{snapshot: defaultSnapshot()}, store, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/events?kind=lock&limit=10")
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Events []database.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].State != "locked" {
		t.Errorf("events = %+v, want one locked event", body.Events)
	}
	if store.lastKind != database.EventKindLock {
		t.Errorf("queried kind = %q, want %q", store.lastKind, database.EventKindLock)
	}
}

func TestEventsEndpointValidation(t *testing.T) {
	srv := newTestServer(t, &fakeDoor{snapshot: defaultSnapshot()}, &fakeStore{}, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	for _, path := range []string{
		"/api/v1/events?kind=weather",
		"/api/v1/events?limit=0",
		"/api/v1/events?limit=9999",
		"/api/v1/events?limit=abc",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Door: &fakeDoor{}}); err == nil {
		t.Error("New() without logger error = nil, want error")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without orchestrator error = nil, want error")
	}
}
