package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"credflow-backend/internal/store"
)

// NotifyChannel is the postgres channel the change triggers publish on.
const NotifyChannel = "credflow_changes"

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// ListenFeed subscribes to the postgres notification channel fed by the
// change triggers installed at bootstrap. A dropped connection is reconnected
// with exponential backoff; after each (re)connect the watched tables are
// re-read so nothing observed during the outage is lost.
type ListenFeed struct {
	store *store.Store
	dsn   string

	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}

	seen map[string]map[string]bool // collection -> id -> observed
}

func NewListenFeed(s *store.Store, dsn string) *ListenFeed {
	return &ListenFeed{
		store: s,
		dsn:   dsn,
		ch:    make(chan Change, 64),
		seen: map[string]map[string]bool{
			CollectionClients:   {},
			CollectionProposals: {},
		},
	}
}

func (f *ListenFeed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(runCtx)
	return nil
}

func (f *ListenFeed) Changes() <-chan Change { return f.ch }

func (f *ListenFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	close(f.ch)
}

func (f *ListenFeed) run(ctx context.Context) {
	defer close(f.done)

	delay := reconnectBaseDelay
	for ctx.Err() == nil {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("ERROR: change listener disconnected: %v (reconnecting in %s)", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// listen holds one LISTEN connection until it fails or ctx is cancelled.
func (f *ListenFeed) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Println("change listener connected")

	// Re-read the watched tables after LISTEN is active so a mutation in
	// the gap cannot be missed.
	if err := f.resync(ctx); err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.handleNotification(ctx, notification.Payload)
	}
}

func (f *ListenFeed) resync(ctx context.Context) error {
	for _, collection := range []string{CollectionClients, CollectionProposals} {
		rows, err := store.QueryRows(ctx, f.store.DB,
			fmt.Sprintf("SELECT * FROM %s ORDER BY updated_at ASC", collection))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !f.emit(ctx, collection, row) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func (f *ListenFeed) handleNotification(ctx context.Context, payload string) {
	var note struct {
		Collection string `json:"collection"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		log.Printf("ERROR: change listener payload %q: %v", payload, err)
		return
	}
	if note.Collection != CollectionClients && note.Collection != CollectionProposals {
		return
	}

	pb := f.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, f.store.DB,
		fmt.Sprintf("SELECT * FROM %s WHERE id = %s", note.Collection, pb.Add(note.ID)),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Row gone before we could read it; deletions are not observed.
			return
		}
		log.Printf("ERROR: change listener fetch %s/%s: %v", note.Collection, note.ID, err)
		return
	}

	f.emit(ctx, note.Collection, row)
}

func (f *ListenFeed) emit(ctx context.Context, collection string, row map[string]any) bool {
	id, _ := row["id"].(string)
	if id == "" {
		return true
	}
	kind := ChangeModified
	if !f.seen[collection][id] {
		f.seen[collection][id] = true
		kind = ChangeAdded
	}
	select {
	case f.ch <- Change{Collection: collection, Kind: kind, Record: row}:
		return true
	case <-ctx.Done():
		return false
	}
}
