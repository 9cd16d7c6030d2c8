package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/imoveis/internal/logging"
	"github.com/jackc/pgx/v5"
)

// Resolve maps a human-readable category name to a dictionary id.
//
// An empty or blank name resolves to nil. An exact match returns its id.
// An unmatched name follows the category's FallbackPolicy: FallbackNone
// yields nil, FallbackDefault yields the result of [Default].
//
// Resolve never updates or deletes dictionary entries; the only write it
// can perform is the default synthesis inside [Default].
func Resolve(ctx context.Context, q DBTX, category Category, name string) (*int32, error) {
	def, ok := GetCategory(category)
	if !ok {
		return nil, validationError("unknown category %q", category)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	sql := fmt.Sprintf("SELECT id FROM %s WHERE name = $1 ORDER BY id LIMIT 1", quoteIdent(def.Table))

	var id int32
	err := q.QueryRow(ctx, sql, name).Scan(&id)
	switch {
	case err == nil:
		return &id, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, classify(err, "resolve "+string(category))
	}

	if def.Fallback == FallbackNone {
		return nil, nil
	}

	id, err = Default(ctx, q, category)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Default returns the lowest-id entry of the category's dictionary. When the
// dictionary is empty the category's literal default is inserted (or, if a
// concurrent caller got there first, fetched) and its id returned.
func Default(ctx context.Context, q DBTX, category Category) (int32, error) {
	def, ok := GetCategory(category)
	if !ok {
		return 0, validationError("unknown category %q", category)
	}
	table := quoteIdent(def.Table)

	var id int32
	err := q.QueryRow(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id LIMIT 1", table)).Scan(&id)
	if err == nil {
		referenceFallbacks.WithLabelValues(string(category), "lowest_id").Inc()
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, classify(err, "default "+string(category))
	}

	// Upsert by name: the UNIQUE(name) index makes repeated synthesis
	// converge on a single row.
	sql := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, table)
	if err := q.QueryRow(ctx, sql, def.Default).Scan(&id); err != nil {
		return 0, classify(err, "synthesize default "+string(category))
	}

	referenceFallbacks.WithLabelValues(string(category), "synthesized").Inc()
	logging.WithFields(ctx, "category", category, "name", def.Default, "id", id).
		Info("synthesized default reference entry")
	return id, nil
}

// SeedDefaults inserts the literal default of every registered category whose
// dictionary is empty. It is the single initialization step for dictionaries
// and is safe to run repeatedly. Returns the number of entries inserted.
func SeedDefaults(ctx context.Context, q DBTX) (int, error) {
	inserted := 0
	for _, def := range Categories() {
		table := quoteIdent(def.Table)
		sql := fmt.Sprintf(`INSERT INTO %s (name)
			SELECT $1::text WHERE NOT EXISTS (SELECT 1 FROM %s)
			ON CONFLICT (name) DO NOTHING`, table, table)

		tag, err := q.Exec(ctx, sql, def.Default)
		if err != nil {
			return inserted, classify(err, "seed "+string(def.Key))
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListReferences returns every entry of a category's dictionary ordered by id.
func ListReferences(ctx context.Context, q DBTX, category Category) ([]ReferenceEntry, error) {
	def, ok := GetCategory(category)
	if !ok {
		return nil, validationError("unknown category %q", category)
	}

	rows, err := q.Query(ctx, fmt.Sprintf("SELECT id, name FROM %s ORDER BY id", quoteIdent(def.Table)))
	if err != nil {
		return nil, classify(err, "list "+string(category))
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ReferenceEntry])
	if err != nil {
		return nil, classify(err, "list "+string(category))
	}
	return entries, nil
}

// referenceEntry loads a dictionary entry by id, or nil for a nil id.
func referenceEntry(ctx context.Context, q DBTX, category Category, id *int32) (*ReferenceEntry, error) {
	if id == nil {
		return nil, nil
	}
	def, ok := GetCategory(category)
	if !ok {
		return nil, validationError("unknown category %q", category)
	}

	entry := ReferenceEntry{ID: *id}
	err := q.QueryRow(ctx, fmt.Sprintf("SELECT name FROM %s WHERE id = $1", quoteIdent(def.Table)), *id).Scan(&entry.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return &entry, nil
	}
	if err != nil {
		return nil, classify(err, "read "+string(category))
	}
	return &entry, nil
}

// quoteIdent quotes a table name for interpolation into SQL text.
// Identifiers come from the registry or the catalog, never from request input.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
