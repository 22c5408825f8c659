package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the service. Executions keep their open maps and
// log trail as jsonb so the executor process can report arbitrary shapes.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id          UUID PRIMARY KEY,
    email       TEXT NOT NULL UNIQUE,
    full_name   TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflows (
    id          UUID PRIMARY KEY,
    owner_id    UUID NOT NULL REFERENCES users(id),
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    nodes       JSONB NOT NULL DEFAULT '[]',
    edges       JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS connections (
    id           UUID PRIMARY KEY,
    owner_id     UUID NOT NULL REFERENCES users(id),
    name         TEXT NOT NULL,
    service_type TEXT NOT NULL,
    credentials  JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS executions (
    id             UUID PRIMARY KEY,
    workflow_id    UUID NOT NULL,
    owner_id       UUID NOT NULL REFERENCES users(id),
    executed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    execution_name TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'pending',
    input_data     JSONB NOT NULL DEFAULT '{}',
    output_data    JSONB NOT NULL DEFAULT '{}',
    duration_ms    BIGINT,
    logs           JSONB NOT NULL DEFAULT '[]',
    error          JSONB
);

CREATE INDEX IF NOT EXISTS idx_executions_owner_executed_at
    ON executions (owner_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_workflow
    ON executions (workflow_id);
`

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
