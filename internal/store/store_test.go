package store

import (
	"context"
	"errors"
	"testing"

	"credflow-backend/internal/config"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "store_test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestBootstrapSeedsAdmin(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	row, err := QueryRow(ctx, s.DB, "SELECT email, roles, active FROM _users")
	if err != nil {
		t.Fatalf("query seeded user: %v", err)
	}
	if row["email"] != "admin@credflow.local" {
		t.Fatalf("unexpected seed email: %v", row["email"])
	}
	roles, err := s.Dialect.ScanArray(row["roles"])
	if err != nil || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected seed roles: %v (%v)", roles, err)
	}

	// Idempotent: a second run neither fails nor reseeds.
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	rows, err := QueryRows(ctx, s.DB, "SELECT id FROM _users")
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one user after rerun, got %d", len(rows))
	}
}

func TestUniqueViolationMapping(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	_, err := Exec(ctx, s.DB,
		"INSERT INTO _users (id, email, password_hash) VALUES (?1, ?2, ?3)",
		GenerateUUID(), "admin@credflow.local", "x")
	if err == nil {
		t.Fatal("expected duplicate email to fail")
	}
	if !errors.Is(s.Dialect.MapError(err), ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}
}

func TestQueryRowNotFound(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	_, err := QueryRow(ctx, s.DB, "SELECT * FROM clients WHERE id = ?1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeBooleans(t *testing.T) {
	rows := []map[string]any{
		{"active": int64(1), "count": int64(3)},
		{"active": int64(0), "count": int64(5)},
	}
	NormalizeBooleans(rows, []string{"active"})

	if rows[0]["active"] != true || rows[1]["active"] != false {
		t.Fatalf("booleans not normalized: %v", rows)
	}
	if rows[0]["count"] != int64(3) {
		t.Fatal("non-boolean field must be untouched")
	}
}
