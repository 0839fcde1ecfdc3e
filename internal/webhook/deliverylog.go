package webhook

import (
	"context"
	"fmt"
	"log"

	"credflow-backend/internal/store"
)

// DeliveryEntry is the audit record of one dispatch attempt.
type DeliveryEntry struct {
	DestinationID  string
	Event          EventKind
	EntityID       string
	URL            string
	RequestBody    string
	ResponseStatus int
	Error          string
}

// Status derives the terminal outcome for the entry.
func (e DeliveryEntry) Status() string {
	if e.Error == "" && e.ResponseStatus >= 200 && e.ResponseStatus < 300 {
		return "delivered"
	}
	return "failed"
}

// DeliveryLog records dispatch attempts for the admin delivery screen.
// Recording is best-effort: implementations absorb their own failures.
type DeliveryLog interface {
	Record(ctx context.Context, entry DeliveryEntry)
}

// StoreDeliveryLog appends entries to the _webhook_deliveries table.
type StoreDeliveryLog struct {
	store *store.Store
}

func NewStoreDeliveryLog(s *store.Store) *StoreDeliveryLog {
	return &StoreDeliveryLog{store: s}
}

func (l *StoreDeliveryLog) Record(ctx context.Context, entry DeliveryEntry) {
	pb := l.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`INSERT INTO _webhook_deliveries
		 (id, destination_id, event, entity_id, url, request_body, response_status, error, status)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(store.GenerateUUID()), pb.Add(entry.DestinationID), pb.Add(string(entry.Event)),
		pb.Add(entry.EntityID), pb.Add(entry.URL), pb.Add(entry.RequestBody),
		pb.Add(entry.ResponseStatus), pb.Add(entry.Error), pb.Add(entry.Status()))
	if _, err := store.Exec(ctx, l.store.DB, sqlStr, pb.Params()...); err != nil {
		log.Printf("ERROR: record webhook delivery for %s/%s: %v", entry.Event, entry.EntityID, err)
	}
}
