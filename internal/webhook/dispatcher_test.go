package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memSource struct {
	mu    sync.Mutex
	dests []Destination
	err   error
	calls int
}

func (s *memSource) Destinations(ctx context.Context) ([]Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.dests, nil
}

func (s *memSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeClock is a manually advanced clock shared by dispatcher and throttle.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func allEvents() EventFlags {
	return EventFlags{
		Clients:   EntityEvents{Created: true, Updated: true, StatusChanged: true},
		Proposals: EntityEvents{Created: true, Updated: true, StatusChanged: true},
		Pipeline:  PipelineEvents{StatusChanged: true},
	}
}

func TestSendDeliversEnvelope(t *testing.T) {
	var gotBody []byte
	var gotSecret string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	source := &memSource{dests: []Destination{{
		ID: "d1", Name: "CRM", URL: srv.URL, Secret: "s3cret",
		Enabled: true, Events: allEvents(),
	}}}
	d := NewDispatcher(source)

	ok := d.SendClientCreated(context.Background(), map[string]any{
		"id": "c-1", "name": "Maria Souza", "status": "pending",
	})
	if !ok {
		t.Fatal("expected delivery to succeed")
	}
	if gotSecret != "s3cret" {
		t.Fatalf("expected secret header s3cret, got %q", gotSecret)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected JSON content type, got %q", gotContentType)
	}

	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != "client_created" {
		t.Fatalf("expected event client_created, got %s", env.Event)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", env.Timestamp)
	}
	if env.Data["id"] != "c-1" || env.Data["name"] != "Maria Souza" {
		t.Fatalf("unexpected data: %v", env.Data)
	}
}

func TestSendSkipsIneligibleDestinations(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	disabled := Destination{ID: "d1", URL: srv.URL, Enabled: false, Events: allEvents()}
	noURL := Destination{ID: "d2", URL: "", Enabled: true, Events: allEvents()}
	unsubscribed := Destination{ID: "d3", URL: srv.URL, Enabled: true,
		Events: EventFlags{Proposals: EntityEvents{Created: true}}}

	source := &memSource{dests: []Destination{disabled, noURL, unsubscribed}}
	d := NewDispatcher(source)

	ok := d.SendClientCreated(context.Background(), map[string]any{"id": "c-1"})
	if ok {
		t.Fatal("expected no delivery")
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("expected zero requests, got %d", n)
	}
}

func TestSendFanOutIsolation(t *testing.T) {
	var okHits, failHits int32
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&okHits, 1)
		w.WriteHeader(200)
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&failHits, 1)
		w.WriteHeader(500)
	}))
	defer failSrv.Close()

	source := &memSource{dests: []Destination{
		{ID: "d1", Name: "failing", URL: failSrv.URL, Enabled: true, Events: allEvents()},
		{ID: "d2", Name: "healthy", URL: okSrv.URL, Enabled: true, Events: allEvents()},
	}}
	d := NewDispatcher(source)

	ok := d.SendProposalCreated(context.Background(), map[string]any{"id": "p-1"})
	if !ok {
		t.Fatal("expected success: one destination acknowledged")
	}
	if atomic.LoadInt32(&okHits) != 1 || atomic.LoadInt32(&failHits) != 1 {
		t.Fatalf("expected both destinations attempted, got ok=%d fail=%d", okHits, failHits)
	}
}

func TestSendUnknownKind(t *testing.T) {
	source := &memSource{dests: []Destination{{ID: "d1", URL: "http://x", Enabled: true, Events: allEvents()}}}
	d := NewDispatcher(source)

	if d.Send(context.Background(), EventKind("record_deleted"), map[string]any{"id": "x"}, "x") {
		t.Fatal("expected false for unknown event kind")
	}
	if source.callCount() != 0 {
		t.Fatal("unknown kind must not touch configuration")
	}
}

func TestSendSourceFailureDegrades(t *testing.T) {
	source := &memSource{err: errors.New("connection refused")}
	d := NewDispatcher(source)

	if d.SendClientCreated(context.Background(), map[string]any{"id": "c-1"}) {
		t.Fatal("expected false when configuration cannot be loaded")
	}
}

func TestDestinationCacheTTL(t *testing.T) {
	clock := newFakeClock()
	source := &memSource{}
	d := NewDispatcher(source, WithClock(clock.Now), WithCacheTTL(5*time.Minute))

	ctx := context.Background()
	d.SendClientCreated(ctx, map[string]any{"id": "c-1"})
	d.SendClientUpdated(ctx, map[string]any{"id": "c-1"})
	if source.callCount() != 1 {
		t.Fatalf("expected one fetch within TTL, got %d", source.callCount())
	}

	clock.Advance(5*time.Minute + time.Second)
	d.SendClientUpdated(ctx, map[string]any{"id": "c-1"})
	if source.callCount() != 2 {
		t.Fatalf("expected refetch after TTL, got %d", source.callCount())
	}
}

type slowSource struct {
	memSource
	delay time.Duration
}

func (s *slowSource) Destinations(ctx context.Context) ([]Destination, error) {
	time.Sleep(s.delay)
	return s.memSource.Destinations(ctx)
}

func TestConcurrentSendsShareOneFetch(t *testing.T) {
	source := &slowSource{delay: 50 * time.Millisecond}
	d := NewDispatcher(source)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.SendClientCreated(context.Background(), map[string]any{"id": "c-1"})
		}()
	}
	wg.Wait()

	if source.callCount() != 1 {
		t.Fatalf("expected one coalesced fetch, got %d", source.callCount())
	}
}

func TestInvalidateCacheForcesRefetch(t *testing.T) {
	source := &memSource{}
	d := NewDispatcher(source)

	ctx := context.Background()
	d.SendClientCreated(ctx, map[string]any{"id": "c-1"})
	d.InvalidateCache()
	d.SendClientCreated(ctx, map[string]any{"id": "c-1"})
	if source.callCount() != 2 {
		t.Fatalf("expected refetch after invalidation, got %d", source.callCount())
	}
}

func TestThrottleSuppressesRepeatDispatch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	clock := newFakeClock()
	source := &memSource{dests: []Destination{{
		ID: "d1", URL: srv.URL, Enabled: true, Events: allEvents(),
		Throttle: ThrottleSettings{Enabled: true, Interval: 60},
	}}}
	d := NewDispatcher(source, WithClock(clock.Now))

	ctx := context.Background()
	if !d.SendClientUpdated(ctx, map[string]any{"id": "c-1"}) {
		t.Fatal("first dispatch should deliver")
	}
	if d.SendClientUpdated(ctx, map[string]any{"id": "c-1"}) {
		t.Fatal("repeat within interval should be suppressed")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one request, got %d", hits)
	}

	// A different entity is a different throttle key.
	if !d.SendClientUpdated(ctx, map[string]any{"id": "c-2"}) {
		t.Fatal("different entity should not be throttled")
	}

	clock.Advance(61 * time.Second)
	if !d.SendClientUpdated(ctx, map[string]any{"id": "c-1"}) {
		t.Fatal("dispatch after interval should deliver")
	}
}

func TestConditionFiltersDispatch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	source := &memSource{dests: []Destination{{
		ID: "d1", URL: srv.URL, Enabled: true, Events: allEvents(),
		Condition: "data.amount > 100.0",
	}}}
	d := NewDispatcher(source)

	ctx := context.Background()
	if d.SendProposalCreated(ctx, map[string]any{"id": "p-1", "amount": 50.0}) {
		t.Fatal("condition should suppress small amounts")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("suppressed dispatch must not hit the destination")
	}
	if !d.SendProposalCreated(ctx, map[string]any{"id": "p-2", "amount": 5000.0}) {
		t.Fatal("condition should pass large amounts")
	}
}

func TestBrokenConditionFiresAnyway(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	source := &memSource{dests: []Destination{{
		ID: "d1", URL: srv.URL, Enabled: true, Events: allEvents(),
		Condition: "((not valid",
	}}}
	d := NewDispatcher(source)

	if !d.SendClientCreated(context.Background(), map[string]any{"id": "c-1"}) {
		t.Fatal("a broken condition must not drop notifications")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one request, got %d", hits)
	}
}

func TestSendTestBypassesEligibility(t *testing.T) {
	var gotSecret string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	d := NewDispatcher(&memSource{})
	dest := Destination{ID: "d1", Name: "staging", URL: srv.URL, Secret: "sh", Enabled: false}

	if !d.SendTest(context.Background(), dest) {
		t.Fatal("test ping should deliver even to a disabled destination")
	}
	if gotSecret != "sh" {
		t.Fatalf("expected secret header, got %q", gotSecret)
	}
	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != "test" {
		t.Fatalf("expected event test, got %s", env.Event)
	}
}

func TestStatusChangePayloadAnnotation(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(204)
	}))
	defer srv.Close()

	source := &memSource{dests: []Destination{{
		ID: "d1", URL: srv.URL, Enabled: true, Events: allEvents(),
	}}}
	d := NewDispatcher(source)

	record := map[string]any{"id": "p-1", "status": "approved"}
	if !d.SendProposalStatusChanged(context.Background(), record, "in_analysis") {
		t.Fatal("expected delivery")
	}

	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Data["previousStatus"] != "in_analysis" || env.Data["newStatus"] != "approved" {
		t.Fatalf("unexpected transition annotation: %v", env.Data)
	}
	if _, ok := record["previousStatus"]; ok {
		t.Fatal("annotation must not mutate the caller's record")
	}
}
