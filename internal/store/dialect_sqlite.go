package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder { return &sqliteParamBuilder{} }

func (d *SQLiteDialect) NowExpr() string { return "CURRENT_TIMESTAMP" }

// SQLite has no uuid generator; ids are generated in application code.
func (d *SQLiteDialect) UUIDDefault() string { return "" }

func (d *SQLiteDialect) SchemaSQL() string {
	return `
CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    roles         TEXT DEFAULT '[]',
    active        INTEGER DEFAULT 1,
    created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON _refresh_tokens(token);

CREATE TABLE IF NOT EXISTS banks (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    trading_name TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS clients (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    email           TEXT NOT NULL DEFAULT '',
    phone           TEXT NOT NULL DEFAULT '',
    document_number TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    monthly_income  REAL,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS proposals (
    id              TEXT PRIMARY KEY,
    number          TEXT NOT NULL UNIQUE,
    client_id       TEXT REFERENCES clients(id) ON DELETE SET NULL,
    bank_id         TEXT REFERENCES banks(id) ON DELETE SET NULL,
    amount          REAL,
    installments    INTEGER,
    status          TEXT NOT NULL DEFAULT 'draft',
    pipeline_status TEXT NOT NULL DEFAULT 'submitted',
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_proposals_client ON proposals(client_id);
CREATE INDEX IF NOT EXISTS idx_proposals_pipeline ON proposals(pipeline_status);

CREATE TABLE IF NOT EXISTS webhook_destinations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    url        TEXT NOT NULL DEFAULT '',
    secret     TEXT NOT NULL DEFAULT '',
    enabled    INTEGER NOT NULL DEFAULT 1,
    events     TEXT NOT NULL DEFAULT '{}',
    condition  TEXT NOT NULL DEFAULT '',
    throttle   TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS webhook_settings (
    id       TEXT PRIMARY KEY,
    url      TEXT NOT NULL DEFAULT '',
    secret   TEXT NOT NULL DEFAULT '',
    enabled  INTEGER NOT NULL DEFAULT 0,
    events   TEXT NOT NULL DEFAULT '{}',
    throttle TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS _webhook_deliveries (
    id              TEXT PRIMARY KEY,
    destination_id  TEXT NOT NULL,
    event           TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    url             TEXT NOT NULL,
    request_body    TEXT NOT NULL DEFAULT '',
    response_status INTEGER,
    error           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_dest ON _webhook_deliveries(destination_id);
`
}

// SQLite has no notification channel; the change monitor uses the polling feed.
func (d *SQLiteDialect) ChangeTriggerSQL() string { return "" }

func (d *SQLiteDialect) ArrayParam(values []string) any {
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func (d *SQLiteDialect) ScanArray(src any) ([]string, error) {
	switch v := src.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return out, nil
	case []byte:
		var out []string
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot scan %T as text array", src)
	}
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrUniqueViolation
	}
	return err
}

func (d *SQLiteDialect) NeedsBoolFix() bool { return true }
