package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/sync/singleflight"
)

// SecretHeader carries the destination's shared secret so the receiver can
// authenticate the callback.
const SecretHeader = "X-Webhook-Secret"

const DefaultCacheTTL = 5 * time.Minute

// Envelope is the JSON body POSTed to every destination.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Dispatcher fans record-mutation events out to the configured destinations.
// It is a best-effort side channel: Send never returns an error and never
// panics past its boundary, so it is safe to call fire-and-forget from any
// mutation path.
type Dispatcher struct {
	source   Source
	client   *http.Client
	delivery DeliveryLog
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   []Destination
	cachedAt time.Time
	group    singleflight.Group

	throttle  *throttleTable
	condCache sync.Map // condition string -> *vm.Program
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithCacheTTL overrides how long the destination list stays cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.cacheTTL = ttl }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
		d.throttle = newThrottleTable(now)
	}
}

// WithDeliveryLog records every non-throttled attempt.
func WithDeliveryLog(dl DeliveryLog) Option {
	return func(d *Dispatcher) { d.delivery = dl }
}

func NewDispatcher(source Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:   source,
		client:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	d.throttle = newThrottleTable(d.now)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InvalidateCache drops the cached destination list. Called by the admin
// handlers after a destination write so edits take effect immediately.
func (d *Dispatcher) InvalidateCache() {
	d.mu.Lock()
	d.cached = nil
	d.cachedAt = time.Time{}
	d.mu.Unlock()
}

// Send delivers an event to every eligible destination and reports whether
// at least one destination acknowledged with a 2xx. Configuration failures,
// throttled keys and per-destination delivery failures are logged, never
// raised.
func (d *Dispatcher) Send(ctx context.Context, kind EventKind, payload map[string]any, entityID string) bool {
	if !kind.Valid() {
		log.Printf("ERROR: webhook dispatch with unknown event kind %q", kind)
		return false
	}
	if entityID == "" {
		log.Printf("WARN: webhook dispatch for %s without entity id", kind)
		entityID = "unknown"
	}

	eligible := make([]Destination, 0, 4)
	for _, dest := range d.destinations(ctx) {
		if dest.Eligible(kind) {
			eligible = append(eligible, dest)
		}
	}
	if len(eligible) == 0 {
		return false
	}

	body, err := json.Marshal(Envelope{
		Event:     string(kind),
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      payload,
	})
	if err != nil {
		log.Printf("ERROR: webhook payload for %s/%s not serializable: %v", kind, entityID, err)
		return false
	}

	// Fire all deliveries concurrently and join on the barrier: one slow or
	// failing destination cannot delay or abort its siblings.
	results := make([]bool, len(eligible))
	var wg sync.WaitGroup
	for i, dest := range eligible {
		if !d.conditionAllows(dest, kind, payload) {
			continue
		}
		if !d.throttle.allow(dest.ID, kind, entityID, dest.Throttle) {
			log.Printf("webhook %s for %s/%s throttled (interval %ds)",
				dest.Name, kind, entityID, dest.Throttle.Interval)
			continue
		}
		wg.Add(1)
		go func(i int, dest Destination) {
			defer wg.Done()
			results[i] = d.deliver(ctx, dest, kind, entityID, body)
		}(i, dest)
	}
	wg.Wait()

	for _, ok := range results {
		if ok {
			return true
		}
	}
	return false
}

// SendClientCreated notifies destinations that a client record was created.
func (d *Dispatcher) SendClientCreated(ctx context.Context, client map[string]any) bool {
	return d.Send(ctx, EventClientCreated, client, recordID(client))
}

// SendClientUpdated notifies destinations that a client record changed.
func (d *Dispatcher) SendClientUpdated(ctx context.Context, client map[string]any) bool {
	return d.Send(ctx, EventClientUpdated, client, recordID(client))
}

// SendClientStatusChanged notifies destinations that a client's status moved
// away from previousStatus.
func (d *Dispatcher) SendClientStatusChanged(ctx context.Context, client map[string]any, previousStatus string) bool {
	payload := withStatusChange(client, previousStatus)
	return d.Send(ctx, EventClientStatusChanged, payload, recordID(client))
}

// SendProposalCreated notifies destinations that a proposal was created.
func (d *Dispatcher) SendProposalCreated(ctx context.Context, proposal map[string]any) bool {
	return d.Send(ctx, EventProposalCreated, proposal, recordID(proposal))
}

// SendProposalUpdated notifies destinations that a proposal changed.
func (d *Dispatcher) SendProposalUpdated(ctx context.Context, proposal map[string]any) bool {
	return d.Send(ctx, EventProposalUpdated, proposal, recordID(proposal))
}

// SendProposalStatusChanged notifies destinations that a proposal's approval
// status moved away from previousStatus.
func (d *Dispatcher) SendProposalStatusChanged(ctx context.Context, proposal map[string]any, previousStatus string) bool {
	payload := withStatusChange(proposal, previousStatus)
	return d.Send(ctx, EventProposalStatusChanged, payload, recordID(proposal))
}

// SendPipelineStatusChanged notifies destinations that a proposal moved on
// the Kanban board. The payload is the pipeline-change document built by the
// change monitor, keyed by proposalId.
func (d *Dispatcher) SendPipelineStatusChanged(ctx context.Context, change map[string]any) bool {
	entityID, _ := change["proposalId"].(string)
	return d.Send(ctx, EventPipelineStatusChanged, change, entityID)
}

// SendTest delivers a synthetic ping to one destination, bypassing
// eligibility flags and throttling. Backs the admin "test destination"
// button.
func (d *Dispatcher) SendTest(ctx context.Context, dest Destination) bool {
	body, err := json.Marshal(Envelope{
		Event:     "test",
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      map[string]any{"message": "credflow webhook test", "destination": dest.Name},
	})
	if err != nil {
		return false
	}
	return d.deliver(ctx, dest, "test", "test", body)
}

// destinations returns the configured destinations through the TTL cache.
// Concurrent callers during a pending fetch share one underlying read; a
// fetch failure degrades to zero destinations.
func (d *Dispatcher) destinations(ctx context.Context) []Destination {
	d.mu.Lock()
	if !d.cachedAt.IsZero() && d.now().Sub(d.cachedAt) < d.cacheTTL {
		cached := d.cached
		d.mu.Unlock()
		return cached
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do("destinations", func() (any, error) {
		dests, err := d.source.Destinations(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cached = dests
		d.cachedAt = d.now()
		d.mu.Unlock()
		return dests, nil
	})
	if err != nil {
		log.Printf("ERROR: webhook configuration fetch failed: %v", err)
		return nil
	}
	return v.([]Destination)
}

// conditionAllows evaluates the destination's optional filter expression.
// An evaluation failure fires the webhook anyway: a broken condition must
// not silently drop notifications.
func (d *Dispatcher) conditionAllows(dest Destination, kind EventKind, payload map[string]any) bool {
	if dest.Condition == "" {
		return true
	}

	prog, err := d.compileCondition(dest.Condition)
	if err != nil {
		log.Printf("ERROR: webhook %s condition compile: %v", dest.Name, err)
		return true
	}

	env := map[string]any{
		"event": string(kind),
		"data":  payload,
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		log.Printf("ERROR: webhook %s condition evaluation: %v", dest.Name, err)
		return true
	}
	allowed, ok := result.(bool)
	if !ok {
		log.Printf("ERROR: webhook %s condition did not return bool", dest.Name)
		return true
	}
	return allowed
}

func (d *Dispatcher) compileCondition(condition string) (*vm.Program, error) {
	if cached, ok := d.condCache.Load(condition); ok {
		return cached.(*vm.Program), nil
	}
	prog, err := expr.Compile(condition, expr.AsBool())
	if err != nil {
		return nil, err
	}
	d.condCache.Store(condition, prog)
	return prog, nil
}

// deliver POSTs the envelope to one destination. Failures are terminal for
// this invocation: no retries, no propagation.
func (d *Dispatcher) deliver(ctx context.Context, dest Destination, kind EventKind, entityID string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("ERROR: webhook %s build request: %v", dest.Name, err)
		d.record(ctx, dest, kind, entityID, body, 0, err.Error())
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, dest.Secret)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("ERROR: webhook %s delivery for %s/%s: %v", dest.Name, kind, entityID, err)
		d.record(ctx, dest, kind, entityID, body, 0, err.Error())
		return false
	}
	defer resp.Body.Close()

	// The response body is not part of the contract; drain it so the
	// connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !ok {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		log.Printf("ERROR: webhook %s delivery for %s/%s returned HTTP %d",
			dest.Name, kind, entityID, resp.StatusCode)
	}
	d.record(ctx, dest, kind, entityID, body, resp.StatusCode, errMsg)
	return ok
}

func (d *Dispatcher) record(ctx context.Context, dest Destination, kind EventKind, entityID string, body []byte, status int, errMsg string) {
	if d.delivery == nil {
		return
	}
	d.delivery.Record(ctx, DeliveryEntry{
		DestinationID:  dest.ID,
		Event:          kind,
		EntityID:       entityID,
		URL:            dest.URL,
		RequestBody:    string(body),
		ResponseStatus: status,
		Error:          errMsg,
	})
}

func recordID(record map[string]any) string {
	switch id := record["id"].(type) {
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

// withStatusChange copies the record and annotates it with the transition.
func withStatusChange(record map[string]any, previousStatus string) map[string]any {
	payload := make(map[string]any, len(record)+2)
	for k, v := range record {
		payload[k] = v
	}
	payload["previousStatus"] = previousStatus
	payload["newStatus"] = record["status"]
	return payload
}
