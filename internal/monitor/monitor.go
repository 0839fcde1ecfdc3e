package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"credflow-backend/internal/model"
	"credflow-backend/internal/store"
)

// Notifier is the dispatcher surface the monitor drives. Every call is
// best-effort; the returned bool only reports whether any destination took
// the event.
type Notifier interface {
	SendClientCreated(ctx context.Context, client map[string]any) bool
	SendClientUpdated(ctx context.Context, client map[string]any) bool
	SendClientStatusChanged(ctx context.Context, client map[string]any, previousStatus string) bool
	SendProposalCreated(ctx context.Context, proposal map[string]any) bool
	SendProposalUpdated(ctx context.Context, proposal map[string]any) bool
	SendProposalStatusChanged(ctx context.Context, proposal map[string]any, previousStatus string) bool
	SendPipelineStatusChanged(ctx context.Context, change map[string]any) bool
}

// Actor is the service identity the monitor runs as; it appears in
// pipeline-change payloads as the changedBy sub-object.
type Actor struct {
	ID   string
	Name string
	Role string
}

// ErrNotAuthorized is returned by Start when the configured actor does not
// hold a monitoring role.
var ErrNotAuthorized = errors.New("monitor actor must have the manager or admin role")

const defaultMaxSnapshots = 10000

type snapshotEntry struct {
	record     map[string]any
	observedAt time.Time
}

// Monitor watches the clients and proposals collections through a feed,
// diffs each record against its last-seen snapshot, classifies the change
// and forwards it to the dispatcher. It is the single dispatch path: the
// CRUD handlers write records and rely on the monitor for notification.
type Monitor struct {
	store        *store.Store
	notifier     Notifier
	feed         Feed
	actor        Actor
	maxSnapshots int
	now          func() time.Time

	snapshots map[string]map[string]snapshotEntry // collection -> id -> last seen

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMaxSnapshots bounds the in-memory snapshot maps.
func WithMaxSnapshots(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.maxSnapshots = n
		}
	}
}

// WithMonitorClock injects a clock, for tests.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(s *store.Store, notifier Notifier, feed Feed, actor Actor, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:        s,
		notifier:     notifier,
		feed:         feed,
		actor:        actor,
		maxSnapshots: defaultMaxSnapshots,
		now:          time.Now,
	}
	m.resetSnapshots()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start verifies the actor is authorized and begins consuming the feed.
func (m *Monitor) Start(ctx context.Context) error {
	if m.actor.Role != model.RoleManager && m.actor.Role != model.RoleAdmin {
		return ErrNotAuthorized
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	if err := m.feed.Start(runCtx); err != nil {
		cancel()
		close(m.done)
		return fmt.Errorf("start change feed: %w", err)
	}

	m.started = true
	go m.run(runCtx)
	log.Printf("change monitor started (actor %s, role %s)", m.actor.ID, m.actor.Role)
	return nil
}

// Stop detaches the feed and clears all snapshots. A later Start reseeds
// from scratch.
func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	m.cancel()
	m.feed.Stop()
	<-m.done
	m.resetSnapshots()
	m.started = false
	log.Println("change monitor stopped")
}

func (m *Monitor) resetSnapshots() {
	m.snapshots = map[string]map[string]snapshotEntry{
		CollectionClients:   {},
		CollectionProposals: {},
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-m.feed.Changes():
			if !ok {
				return
			}
			m.Handle(ctx, change)
		}
	}
}

// Handle processes one change notification. Exported so tests can drive the
// monitor without a live feed.
func (m *Monitor) Handle(ctx context.Context, change Change) {
	id, _ := change.Record["id"].(string)
	if id == "" {
		log.Printf("WARN: change in %s without id, skipped", change.Collection)
		return
	}

	switch change.Collection {
	case CollectionClients:
		m.handleClient(ctx, id, change)
	case CollectionProposals:
		m.handleProposal(ctx, id, change)
	}
}

func (m *Monitor) handleClient(ctx context.Context, id string, change Change) {
	record := redactRecord(change.Record)

	if change.Kind == ChangeAdded {
		m.remember(CollectionClients, id, record)
		m.notifier.SendClientCreated(ctx, record)
		return
	}

	prev, seen := m.snapshots[CollectionClients][id]
	if seen {
		prevStatus := asString(prev.record["status"])
		if prevStatus != asString(record["status"]) {
			m.notifier.SendClientStatusChanged(ctx, record, prevStatus)
		}
	}
	m.notifier.SendClientUpdated(ctx, record)
	m.remember(CollectionClients, id, record)
}

func (m *Monitor) handleProposal(ctx context.Context, id string, change Change) {
	record := redactRecord(change.Record)
	m.enrichProposal(ctx, record)

	if change.Kind == ChangeAdded {
		m.remember(CollectionProposals, id, record)
		m.notifier.SendProposalCreated(ctx, record)
		return
	}

	prev, seen := m.snapshots[CollectionProposals][id]
	if seen {
		prevStatus := asString(prev.record["status"])
		if prevStatus != asString(record["status"]) {
			m.notifier.SendProposalStatusChanged(ctx, record, prevStatus)
		}

		prevStage := asString(prev.record["pipeline_status"])
		newStage := asString(record["pipeline_status"])
		if prevStage != newStage {
			m.notifier.SendPipelineStatusChanged(ctx, m.pipelineChange(record, id, prevStage, newStage))
		}
	}
	m.notifier.SendProposalUpdated(ctx, record)
	m.remember(CollectionProposals, id, record)
}

// pipelineChange builds the Kanban-move payload: display identifiers, the
// stage transition and the acting identity.
func (m *Monitor) pipelineChange(record map[string]any, id, prevStage, newStage string) map[string]any {
	return map[string]any{
		"proposalId":     id,
		"proposalNumber": record["number"],
		"clientName":     record["clientName"],
		"previousStatus": prevStage,
		"newStatus":      newStage,
		"changedAt":      m.now().UTC().Format(time.RFC3339),
		"changedBy": map[string]any{
			"id":   m.actor.ID,
			"name": m.actor.Name,
			"role": m.actor.Role,
		},
	}
}

// enrichProposal resolves denormalized display fields with point-in-time
// lookups. A failed lookup is logged and leaves the field absent; it never
// blocks the event.
func (m *Monitor) enrichProposal(ctx context.Context, record map[string]any) {
	if clientID := asString(record["client_id"]); clientID != "" {
		pb := m.store.Dialect.NewParamBuilder()
		row, err := store.QueryRow(ctx, m.store.DB,
			"SELECT name FROM clients WHERE id = "+pb.Add(clientID), pb.Params()...)
		if err != nil {
			log.Printf("WARN: enrich proposal %v: client %s lookup: %v", record["id"], clientID, err)
		} else {
			record["clientName"] = row["name"]
		}
	}

	if bankID := asString(record["bank_id"]); bankID != "" {
		pb := m.store.Dialect.NewParamBuilder()
		row, err := store.QueryRow(ctx, m.store.DB,
			"SELECT name, trading_name FROM banks WHERE id = "+pb.Add(bankID), pb.Params()...)
		if err != nil {
			log.Printf("WARN: enrich proposal %v: bank %s lookup: %v", record["id"], bankID, err)
		} else {
			record["bankName"] = row["name"]
			record["bankTradingName"] = row["trading_name"]
		}
	}
}

// remember replaces the stored snapshot, evicting the oldest entries when
// the map outgrows its bound.
func (m *Monitor) remember(collection, id string, record map[string]any) {
	snaps := m.snapshots[collection]
	snaps[id] = snapshotEntry{record: record, observedAt: m.now()}

	for len(snaps) > m.maxSnapshots {
		oldestID := ""
		var oldestAt time.Time
		for key, entry := range snaps {
			if oldestID == "" || entry.observedAt.Before(oldestAt) {
				oldestID = key
				oldestAt = entry.observedAt
			}
		}
		delete(snaps, oldestID)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
