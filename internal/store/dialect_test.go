package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestParamBuilderPlaceholders(t *testing.T) {
	pg := (&PostgresDialect{}).NewParamBuilder()
	if got := pg.Add("a"); got != "$1" {
		t.Errorf("expected $1, got %s", got)
	}
	if got := pg.Add("b"); got != "$2" {
		t.Errorf("expected $2, got %s", got)
	}
	if pg.Count() != 2 || len(pg.Params()) != 2 || pg.Params()[1] != "b" {
		t.Errorf("unexpected params: %v", pg.Params())
	}

	lite := (&SQLiteDialect{}).NewParamBuilder()
	if got := lite.Add("a"); got != "?1" {
		t.Errorf("expected ?1, got %s", got)
	}
	if got := lite.Add("b"); got != "?2" {
		t.Errorf("expected ?2, got %s", got)
	}
}

func TestSQLiteArrayRoundTrip(t *testing.T) {
	d := &SQLiteDialect{}
	encoded := d.ArrayParam([]string{"admin", "manager"})
	s, ok := encoded.(string)
	if !ok {
		t.Fatalf("expected JSON string, got %T", encoded)
	}

	roles, err := d.ScanArray(s)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "manager" {
		t.Fatalf("unexpected roles: %v", roles)
	}

	empty, err := d.ScanArray(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty slice for nil, got %v (%v)", empty, err)
	}
}

func TestPostgresScanArray(t *testing.T) {
	d := &PostgresDialect{}

	roles, err := d.ScanArray("{admin,manager}")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "manager" {
		t.Fatalf("unexpected roles: %v", roles)
	}

	quoted, err := d.ScanArray(`{"first role","second, role"}`)
	if err != nil {
		t.Fatalf("scan quoted: %v", err)
	}
	if len(quoted) != 2 || quoted[0] != "first role" || quoted[1] != "second, role" {
		t.Fatalf("unexpected quoted roles: %v", quoted)
	}

	if empty, _ := d.ScanArray("{}"); len(empty) != 0 {
		t.Fatalf("expected empty for {}, got %v", empty)
	}
	if passthrough, _ := d.ScanArray([]string{"x"}); len(passthrough) != 1 {
		t.Fatal("expected []string passthrough")
	}
}

func TestMapError(t *testing.T) {
	pg := &PostgresDialect{}
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !errors.Is(pg.MapError(dup), ErrUniqueViolation) {
		t.Error("expected pg 23505 to map to ErrUniqueViolation")
	}
	other := errors.New("connection reset")
	if errors.Is(pg.MapError(other), ErrUniqueViolation) {
		t.Error("unrelated error must pass through")
	}

	lite := &SQLiteDialect{}
	liteDup := errors.New("constraint failed: UNIQUE constraint failed: _users.email")
	if !errors.Is(lite.MapError(liteDup), ErrUniqueViolation) {
		t.Error("expected sqlite unique message to map to ErrUniqueViolation")
	}
	if lite.MapError(nil) != nil || pg.MapError(nil) != nil {
		t.Error("nil must map to nil")
	}
}
