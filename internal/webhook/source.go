package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credflow-backend/internal/store"
)

// LegacyDestinationID identifies the destination synthesized from the old
// single-endpoint configuration.
const LegacyDestinationID = "legacy"

// Source loads the configured destinations. The dispatcher caches the result.
type Source interface {
	Destinations(ctx context.Context) ([]Destination, error)
}

// StoreSource reads destinations from the webhook_destinations table,
// falling back to the legacy webhook_settings singleton when the table is
// empty.
type StoreSource struct {
	store *store.Store
}

func NewStoreSource(s *store.Store) *StoreSource {
	return &StoreSource{store: s}
}

func (s *StoreSource) Destinations(ctx context.Context) ([]Destination, error) {
	rows, err := store.QueryRows(ctx, s.store.DB,
		"SELECT id, name, url, secret, enabled, events, condition, throttle FROM webhook_destinations")
	if err != nil {
		return nil, fmt.Errorf("load destinations: %w", err)
	}

	if len(rows) == 0 {
		return s.legacyDestination(ctx)
	}

	dests := make([]Destination, 0, len(rows))
	for _, row := range rows {
		d, err := DestinationFromRow(row)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}

// legacyDestination upgrades the old single-endpoint settings document into a
// one-element destination list. All original fields are preserved; id and
// name are synthetic.
func (s *StoreSource) legacyDestination(ctx context.Context) ([]Destination, error) {
	row, err := store.QueryRow(ctx, s.store.DB,
		"SELECT url, secret, enabled, events, throttle FROM webhook_settings LIMIT 1")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []Destination{}, nil
		}
		return nil, fmt.Errorf("load legacy settings: %w", err)
	}

	d := Destination{
		ID:      LegacyDestinationID,
		Name:    "Legacy webhook",
		URL:     asString(row["url"]),
		Secret:  asString(row["secret"]),
		Enabled: asBool(row["enabled"]),
	}
	if err := decodeJSONField(row["events"], &d.Events); err != nil {
		return nil, fmt.Errorf("legacy events: %w", err)
	}
	if err := decodeJSONField(row["throttle"], &d.Throttle); err != nil {
		return nil, fmt.Errorf("legacy throttle: %w", err)
	}
	return []Destination{d}, nil
}

// DestinationFromRow decodes a webhook_destinations row, including its JSON
// events and throttle columns.
func DestinationFromRow(row map[string]any) (Destination, error) {
	d := Destination{
		ID:        asString(row["id"]),
		Name:      asString(row["name"]),
		URL:       asString(row["url"]),
		Secret:    asString(row["secret"]),
		Enabled:   asBool(row["enabled"]),
		Condition: asString(row["condition"]),
	}
	if err := decodeJSONField(row["events"], &d.Events); err != nil {
		return d, fmt.Errorf("destination %s events: %w", d.ID, err)
	}
	if err := decodeJSONField(row["throttle"], &d.Throttle); err != nil {
		return d, fmt.Errorf("destination %s throttle: %w", d.ID, err)
	}
	return d, nil
}

func decodeJSONField(v any, target any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return json.Unmarshal([]byte(val), target)
	case []byte:
		return json.Unmarshal(val, target)
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, target)
	default:
		return fmt.Errorf("unexpected JSON column type %T", v)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return false
	}
}
