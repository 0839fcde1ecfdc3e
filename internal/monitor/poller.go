package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"credflow-backend/internal/store"
)

// PollFeed sweeps the watched tables on a fixed interval and emits rows
// whose updated_at moved past the previous sweep. Used where the database
// has no notification channel (SQLite), or when configured explicitly.
type PollFeed struct {
	store    *store.Store
	interval time.Duration

	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}

	lastSweep time.Time
	seen      map[string]map[string]bool // collection -> id -> observed
}

func NewPollFeed(s *store.Store, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollFeed{
		store:    s,
		interval: interval,
		ch:       make(chan Change, 64),
		seen: map[string]map[string]bool{
			CollectionClients:   {},
			CollectionProposals: {},
		},
	}
}

func (f *PollFeed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.run(runCtx)
	log.Printf("change poller started (%s interval)", f.interval)
	return nil
}

func (f *PollFeed) Changes() <-chan Change { return f.ch }

func (f *PollFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	close(f.ch)
}

func (f *PollFeed) run(ctx context.Context) {
	defer close(f.done)

	// The first sweep delivers the current contents as additions, so the
	// monitor seeds its snapshots the same way a live subscription would.
	f.sweep(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweep(ctx)
		}
	}
}

func (f *PollFeed) sweep(ctx context.Context) {
	since := f.lastSweep
	sweepStart := time.Now().UTC()

	for _, collection := range []string{CollectionClients, CollectionProposals} {
		rows, err := f.fetchChanged(ctx, collection, since)
		if err != nil {
			log.Printf("ERROR: change poller sweep of %s: %v", collection, err)
			continue
		}
		for _, row := range rows {
			id, _ := row["id"].(string)
			if id == "" {
				continue
			}
			kind := ChangeModified
			if !f.seen[collection][id] {
				f.seen[collection][id] = true
				kind = ChangeAdded
			}
			select {
			case f.ch <- Change{Collection: collection, Kind: kind, Record: row}:
			case <-ctx.Done():
				return
			}
		}
	}

	f.lastSweep = sweepStart
}

func (f *PollFeed) fetchChanged(ctx context.Context, collection string, since time.Time) ([]map[string]any, error) {
	if since.IsZero() {
		return store.QueryRows(ctx, f.store.DB,
			fmt.Sprintf("SELECT * FROM %s ORDER BY updated_at ASC", collection))
	}
	pb := f.store.Dialect.NewParamBuilder()
	// sqlite stores CURRENT_TIMESTAMP as UTC text; bind the same shape so the
	// comparison holds on both dialects.
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE updated_at >= %s ORDER BY updated_at ASC",
		collection, pb.Add(since.UTC().Format("2006-01-02 15:04:05")))
	return store.QueryRows(ctx, f.store.DB, sqlStr, pb.Params()...)
}
