package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder { return &pgParamBuilder{} }

func (d *PostgresDialect) NowExpr() string     { return "NOW()" }
func (d *PostgresDialect) UUIDDefault() string { return "DEFAULT gen_random_uuid()" }

func (d *PostgresDialect) SchemaSQL() string {
	return `
CREATE TABLE IF NOT EXISTS _users (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    roles         TEXT[] DEFAULT '{}',
    active        BOOLEAN DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    updated_at    TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id    UUID NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      UUID NOT NULL UNIQUE DEFAULT gen_random_uuid(),
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON _refresh_tokens(token);

CREATE TABLE IF NOT EXISTS banks (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name         TEXT NOT NULL,
    trading_name TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ DEFAULT NOW(),
    updated_at   TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS clients (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name            TEXT NOT NULL,
    email           TEXT NOT NULL DEFAULT '',
    phone           TEXT NOT NULL DEFAULT '',
    document_number TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    monthly_income  NUMERIC(14,2),
    created_at      TIMESTAMPTZ DEFAULT NOW(),
    updated_at      TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS proposals (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    number          TEXT NOT NULL UNIQUE,
    client_id       UUID REFERENCES clients(id) ON DELETE SET NULL,
    bank_id         UUID REFERENCES banks(id) ON DELETE SET NULL,
    amount          NUMERIC(14,2),
    installments    INT,
    status          TEXT NOT NULL DEFAULT 'draft',
    pipeline_status TEXT NOT NULL DEFAULT 'submitted',
    created_at      TIMESTAMPTZ DEFAULT NOW(),
    updated_at      TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_proposals_client ON proposals(client_id);
CREATE INDEX IF NOT EXISTS idx_proposals_pipeline ON proposals(pipeline_status);

CREATE TABLE IF NOT EXISTS webhook_destinations (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name       TEXT NOT NULL,
    url        TEXT NOT NULL DEFAULT '',
    secret     TEXT NOT NULL DEFAULT '',
    enabled    BOOLEAN NOT NULL DEFAULT true,
    events     JSONB NOT NULL DEFAULT '{}',
    condition  TEXT NOT NULL DEFAULT '',
    throttle   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS webhook_settings (
    id       TEXT PRIMARY KEY,
    url      TEXT NOT NULL DEFAULT '',
    secret   TEXT NOT NULL DEFAULT '',
    enabled  BOOLEAN NOT NULL DEFAULT false,
    events   JSONB NOT NULL DEFAULT '{}',
    throttle JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS _webhook_deliveries (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    destination_id  TEXT NOT NULL,
    event           TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    url             TEXT NOT NULL,
    request_body    TEXT NOT NULL DEFAULT '',
    response_status INT,
    error           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    created_at      TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_dest ON _webhook_deliveries(destination_id);
`
}

func (d *PostgresDialect) ChangeTriggerSQL() string {
	return `
CREATE OR REPLACE FUNCTION credflow_notify_change() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('credflow_changes',
        json_build_object('collection', TG_TABLE_NAME, 'id', NEW.id)::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS clients_notify_change ON clients;
CREATE TRIGGER clients_notify_change
    AFTER INSERT OR UPDATE ON clients
    FOR EACH ROW EXECUTE FUNCTION credflow_notify_change();

DROP TRIGGER IF EXISTS proposals_notify_change ON proposals;
CREATE TRIGGER proposals_notify_change
    AFTER INSERT OR UPDATE ON proposals
    FOR EACH ROW EXECUTE FUNCTION credflow_notify_change();
`
}

func (d *PostgresDialect) ArrayParam(values []string) any {
	return values
}

func (d *PostgresDialect) ScanArray(src any) ([]string, error) {
	switch v := src.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		// pgx via database/sql returns TEXT[] as its textual form: {a,b}
		return parsePgTextArray(v), nil
	case []byte:
		return parsePgTextArray(string(v)), nil
	default:
		return nil, fmt.Errorf("cannot scan %T as text array", src)
	}
}

func parsePgTextArray(s string) []string {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return []string{}
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []string{}
	}
	var out []string
	var cur []byte
	inQuotes := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == '\\' && i+1 < len(inner):
			i++
			cur = append(cur, inner[i])
		case c == ',' && !inQuotes:
			out = append(out, string(cur))
			cur = cur[:0]
		default:
			cur = append(cur, c)
		}
	}
	out = append(out, string(cur))
	return out
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrUniqueViolation
		}
	}
	return err
}

func (d *PostgresDialect) NeedsBoolFix() bool { return false }

// EncodeJSON marshals a value for a JSONB column.
func EncodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
