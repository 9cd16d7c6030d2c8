package core

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
)

// auxiliaryRelation is a known companion of the records table that may hold
// references without a declared foreign key.
type auxiliaryRelation struct {
	Table  string
	Column string
}

// auxiliaryRelations is the fixed allow-list checked in addition to the catalog.
var auxiliaryRelations = []auxiliaryRelation{
	{Table: InfrastructureTable, Column: "property_id"},
	{Table: DocumentsTable, Column: "property_id"},
}

// fkColumn is one referencing column found in the catalog.
type fkColumn struct {
	Table  string
	Column string
}

const foreignKeysQuery = `
SELECT cl.relname::text, a.attname::text
FROM pg_constraint c
JOIN pg_class cl ON cl.oid = c.conrelid
JOIN pg_namespace n ON n.oid = cl.relnamespace
JOIN pg_class ref ON ref.oid = c.confrelid
JOIN pg_namespace rn ON rn.oid = ref.relnamespace
CROSS JOIN LATERAL unnest(c.conkey) AS k(attnum)
JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
WHERE c.contype = 'f'
  AND ref.relname = $1
  AND rn.nspname = current_schema()
  AND n.nspname = current_schema()
ORDER BY cl.relname, a.attname`

const columnExistsQuery = `
SELECT EXISTS (
	SELECT 1 FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
)`

// DiscoverDependents returns the tables holding references to target,
// ordered by table name.
//
// The result combines foreign keys declared in the catalog with the
// auxiliary allow-list entries that currently exist. A table found by both
// appears once with its columns merged. Self-references on target are
// excluded. Nothing is cached; the catalog is read on every call.
func DiscoverDependents(ctx context.Context, q DBTX, target string) ([]Dependent, error) {
	rows, err := q.Query(ctx, foreignKeysQuery, target)
	if err != nil {
		return nil, classify(err, "discover dependents")
	}
	catalog, err := pgx.CollectRows(rows, pgx.RowToStructByPos[fkColumn])
	if err != nil {
		return nil, classify(err, "discover dependents")
	}

	var present []auxiliaryRelation
	if target == RecordsTable {
		for _, rel := range auxiliaryRelations {
			var exists bool
			if err := q.QueryRow(ctx, columnExistsQuery, rel.Table, rel.Column).Scan(&exists); err != nil {
				return nil, classify(err, "probe "+rel.Table)
			}
			if exists {
				present = append(present, rel)
			}
		}
	}

	return mergeDependents(target, catalog, present), nil
}

// mergeDependents combines catalog and allow-list relations into one entry
// per table. Columns are unioned and sorted; a table is auxiliary when it is
// on the allow-list.
func mergeDependents(target string, catalog []fkColumn, aux []auxiliaryRelation) []Dependent {
	byTable := make(map[string]*Dependent)
	add := func(table, column string, auxiliary bool) {
		if table == target {
			return
		}
		d, ok := byTable[table]
		if !ok {
			d = &Dependent{Table: table}
			byTable[table] = d
		}
		if auxiliary {
			d.Auxiliary = true
		}
		for _, c := range d.Columns {
			if c == column {
				return
			}
		}
		d.Columns = append(d.Columns, column)
	}

	for _, fk := range catalog {
		add(fk.Table, fk.Column, false)
	}
	for _, rel := range aux {
		add(rel.Table, rel.Column, true)
	}

	result := make([]Dependent, 0, len(byTable))
	for _, d := range byTable {
		sort.Strings(d.Columns)
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Table < result[j].Table
	})
	return result
}

// TableExists reports whether table exists in the current schema.
func TableExists(ctx context.Context, q DBTX, table string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", quoteIdent(table)).Scan(&exists); err != nil {
		return false, classify(err, "probe "+table)
	}
	return exists, nil
}
