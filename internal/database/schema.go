package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dictionaryTables are the category lookups, each shaped {id, name}.
var dictionaryTables = []string{
	"property_types",
	"purposes",
	"transfer_statuses",
	"possession_types",
	"building_uses",
}

// Migration is one named, idempotent schema step.
type Migration struct {
	Name       string
	Statements []string
}

// Migrations returns the schema steps in application order.
// The infrastructure and documents tables are optional at run time; the
// engine probes for them before use.
func Migrations() []Migration {
	dicts := make([]string, 0, len(dictionaryTables))
	for _, t := range dictionaryTables {
		dicts = append(dicts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id   SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`, pgx.Identifier{t}.Sanitize()))
	}

	return []Migration{
		{Name: "dictionaries", Statements: dicts},
		{Name: "properties", Statements: []string{
			`CREATE TABLE IF NOT EXISTS properties (
				id                    UUID PRIMARY KEY,
				matricula             TEXT NOT NULL,
				parent_id             UUID REFERENCES properties(id),
				property_type_id      INTEGER REFERENCES property_types(id),
				purpose_id            INTEGER REFERENCES purposes(id),
				transfer_status_id    INTEGER REFERENCES transfer_statuses(id),
				possession_type_id    INTEGER REFERENCES possession_types(id),
				building_use_id       INTEGER REFERENCES building_uses(id),
				location              TEXT,
				description           TEXT,
				area                  NUMERIC(12,2) NOT NULL DEFAULT 0,
				assessed_value        NUMERIC(14,2) NOT NULL DEFAULT 0,
				latitude              NUMERIC(10,7) NOT NULL DEFAULT 0,
				longitude             NUMERIC(10,7) NOT NULL DEFAULT 0,
				notes                 TEXT,
				origin_matriculas     TEXT,
				registration_document TEXT,
				created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
				created_by_id         TEXT,
				created_by_name       TEXT
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS properties_matricula_key ON properties (matricula)`,
			`CREATE INDEX IF NOT EXISTS properties_parent_id_idx ON properties (parent_id)`,
		}},
		{Name: "property_infrastructure", Statements: []string{
			`CREATE TABLE IF NOT EXISTS property_infrastructure (
				property_id      UUID PRIMARY KEY REFERENCES properties(id),
				water            BOOLEAN NOT NULL DEFAULT false,
				sewage           BOOLEAN NOT NULL DEFAULT false,
				power            BOOLEAN NOT NULL DEFAULT false,
				paving           BOOLEAN NOT NULL DEFAULT false,
				street_lighting  BOOLEAN NOT NULL DEFAULT false,
				waste_collection BOOLEAN NOT NULL DEFAULT false
			)`,
		}},
		{Name: "property_documents", Statements: []string{
			`CREATE TABLE IF NOT EXISTS property_documents (
				id          BIGSERIAL PRIMARY KEY,
				property_id UUID NOT NULL REFERENCES properties(id),
				kind        TEXT NOT NULL DEFAULT 'other',
				reference   TEXT NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS property_documents_property_id_idx ON property_documents (property_id)`,
		}},
		{Name: "audit_log", Statements: []string{
			`CREATE TABLE IF NOT EXISTS audit_log (
				id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				action        TEXT NOT NULL,
				severity      TEXT NOT NULL,
				record_id     TEXT,
				matricula     TEXT,
				actor_id      TEXT,
				actor_name    TEXT,
				ip_address    INET,
				user_agent    TEXT,
				details       JSONB,
				rows_affected BIGINT NOT NULL DEFAULT 0,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS audit_log_record_id_idx ON audit_log (record_id, created_at DESC)`,
		}},
	}
}

// EnsureSchema applies every migration in one transaction. It is safe to
// run against an existing schema. Returns the names of applied migrations.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var applied []string
	for _, m := range Migrations() {
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("migration %s: %w", m.Name, err)
			}
		}
		applied = append(applied, m.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit migration: %w", err)
	}
	return applied, nil
}
