package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/imoveis/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const recordColumns = `id, matricula, parent_id,
	property_type_id, purpose_id, transfer_status_id, possession_type_id, building_use_id,
	COALESCE(location, ''), COALESCE(description, ''),
	COALESCE(area, 0), COALESCE(assessed_value, 0), COALESCE(latitude, 0), COALESCE(longitude, 0),
	COALESCE(notes, ''), COALESCE(origin_matriculas, ''), COALESCE(registration_document, ''),
	created_at, updated_at, COALESCE(created_by_id, ''), COALESCE(created_by_name, '')`

var (
	selectRecordSQL = fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, RecordsTable)

	insertRecordSQL = fmt.Sprintf(`INSERT INTO %s (
		id, matricula, parent_id,
		property_type_id, purpose_id, transfer_status_id, possession_type_id, building_use_id,
		location, description, area, assessed_value, latitude, longitude,
		notes, origin_matriculas, registration_document,
		created_at, updated_at, created_by_id, created_by_name
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18, $19, $20)`,
		RecordsTable)

	updateRecordSQL = fmt.Sprintf(`UPDATE %s SET
		matricula = $2, parent_id = $3,
		property_type_id = $4, purpose_id = $5, transfer_status_id = $6,
		possession_type_id = $7, building_use_id = $8,
		location = $9, description = $10, area = $11, assessed_value = $12,
		latitude = $13, longitude = $14, notes = $15, origin_matriculas = $16,
		registration_document = $17, updated_at = $18
	WHERE id = $1`, RecordsTable)

	duplicateSQL = fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE matricula = $1 AND id <> $2)", RecordsTable)

	selectInfrastructureSQL = fmt.Sprintf(`SELECT water, sewage, power, paving, street_lighting, waste_collection
		FROM %s WHERE property_id = $1`, InfrastructureTable)

	upsertInfrastructureSQL = fmt.Sprintf(`INSERT INTO %s
		(property_id, water, sewage, power, paving, street_lighting, waste_collection)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (property_id) DO UPDATE SET
			water = EXCLUDED.water, sewage = EXCLUDED.sewage, power = EXCLUDED.power,
			paving = EXCLUDED.paving, street_lighting = EXCLUDED.street_lighting,
			waste_collection = EXCLUDED.waste_collection`, InfrastructureTable)
)

// matriculaConstraint is the unique index backing matricula uniqueness.
const matriculaConstraint = "properties_matricula_key"

// coordinator validates and persists creates and updates of records.
type coordinator struct {
	policy NumericPolicy
	mode   UpdateMode
	clock  Clock
	ids    IDGenerator
}

// create inserts a new record inside tx and returns its id.
func (c coordinator) create(ctx context.Context, tx pgx.Tx, in RecordInput) (uuid.UUID, error) {
	if err := in.Validate(true); err != nil {
		return uuid.Nil, err
	}
	values, err := in.normalize(recordValues{}, c.policy)
	if err != nil {
		return uuid.Nil, err
	}

	if err := checkDuplicate(ctx, tx, values.Matricula, uuid.Nil); err != nil {
		return uuid.Nil, err
	}
	if values.ParentID != nil {
		if err := ValidateParent(ctx, tx, *values.ParentID, nil); err != nil {
			return uuid.Nil, err
		}
	}
	if err := resolveReferences(ctx, tx, in, values.References); err != nil {
		return uuid.Nil, err
	}

	id := c.ids.NewID()
	now := c.clock.Now()
	actor := ActorFromContext(ctx)

	_, err = tx.Exec(ctx, insertRecordSQL, append(values.args(id), now, ToPgText(actor.ID), ToPgText(actor.Name))...)
	if err != nil {
		return uuid.Nil, writeError(err, values, "create record")
	}

	if in.Infrastructure != nil {
		writeInfrastructure(ctx, tx, id, in.Infrastructure.apply(InfrastructureProfile{}))
	}
	return id, nil
}

// update overwrites the record id inside tx according to the update mode.
func (c coordinator) update(ctx context.Context, tx pgx.Tx, id uuid.UUID, in RecordInput) error {
	if err := in.Validate(false); err != nil {
		return err
	}

	stored, err := loadRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}

	base := recordValues{Matricula: stored.Matricula}
	if c.mode == UpdatePatch {
		base = valuesOf(stored)
	}
	values, err := in.normalize(base, c.policy)
	if err != nil {
		return err
	}

	if values.Matricula != stored.Matricula {
		if err := checkDuplicate(ctx, tx, values.Matricula, id); err != nil {
			return err
		}
	}
	if values.ParentID != nil && (stored.ParentID == nil || *stored.ParentID != *values.ParentID) {
		if err := ValidateParent(ctx, tx, *values.ParentID, &id); err != nil {
			return err
		}
	}
	if err := resolveReferences(ctx, tx, in, values.References); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateRecordSQL, append(values.args(id), c.clock.Now())...); err != nil {
		return writeError(err, values, "update record")
	}

	switch {
	case c.mode == UpdateReplace:
		writeInfrastructure(ctx, tx, id, in.Infrastructure.apply(InfrastructureProfile{}))
	case in.Infrastructure != nil:
		current := InfrastructureProfile{}
		if p := readInfrastructure(ctx, tx, id); p != nil {
			current = *p
		}
		writeInfrastructure(ctx, tx, id, in.Infrastructure.apply(current))
	}
	return nil
}

// args returns the positional parameters shared by insert and update.
func (v recordValues) args(id uuid.UUID) []any {
	return []any{
		id,
		v.Matricula,
		ToPgUUID(v.ParentID),
		v.References[CategoryPropertyType],
		v.References[CategoryPurpose],
		v.References[CategoryTransferStatus],
		v.References[CategoryPossessionType],
		v.References[CategoryBuildingUse],
		v.Location,
		v.Description,
		v.Area,
		v.AssessedValue,
		v.Latitude,
		v.Longitude,
		v.Notes,
		JoinKeys(v.OriginMatriculas),
		v.RegistrationDocument,
	}
}

// resolveReferences fills refs for every registered category. Supplied
// names are resolved; omitted ones keep whatever refs already holds.
// Required categories left unset fall back to the dictionary default.
func resolveReferences(ctx context.Context, tx pgx.Tx, in RecordInput, refs map[Category]*int32) error {
	for _, def := range Categories() {
		if name := in.categoryName(def.Key); name != nil {
			id, err := Resolve(ctx, tx, def.Key, *name)
			if err != nil {
				return err
			}
			refs[def.Key] = id
		}
		if refs[def.Key] == nil && def.Required {
			id, err := Default(ctx, tx, def.Key)
			if err != nil {
				return err
			}
			refs[def.Key] = &id
		}
	}
	return nil
}

// checkDuplicate fails with DuplicateKey when another record holds matricula.
// The unique index still decides races; this only reports the common case
// before anything is written.
func checkDuplicate(ctx context.Context, q DBTX, matricula string, self uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, duplicateSQL, matricula, self).Scan(&exists); err != nil {
		return classify(err, "check matricula")
	}
	if exists {
		return duplicateKey(matricula)
	}
	return nil
}

// writeError maps a failed insert/update of the record row.
func writeError(err error, v recordValues, op string) error {
	switch pgCode(err) {
	case pgUniqueViolation:
		if c := pgConstraint(err); c == "" || c == matriculaConstraint {
			return duplicateKey(v.Matricula)
		}
		return newError(KindIntegrityViolation, err, "%s: unique constraint %s", op, pgConstraint(err))
	case pgForeignKeyViolation:
		return newError(KindInvalidReference, err, "%s: referenced row no longer exists", op)
	}
	return classify(err, op)
}

// loadRecord reads a record row. forUpdate locks it for the enclosing tx.
func loadRecord(ctx context.Context, q DBTX, id uuid.UUID, forUpdate bool) (Record, error) {
	sql := selectRecordSQL
	if forUpdate {
		sql += " FOR UPDATE"
	}

	var (
		r       Record
		parent  pgtype.UUID
		refs    [5]*int32
		origins string
	)
	err := q.QueryRow(ctx, sql, id).Scan(
		&r.ID, &r.Matricula, &parent,
		&refs[0], &refs[1], &refs[2], &refs[3], &refs[4],
		&r.Location, &r.Description,
		&r.Area, &r.AssessedValue, &r.Latitude, &r.Longitude,
		&r.Notes, &origins, &r.RegistrationDocument,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedByID, &r.CreatedByName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound("record %s not found", id)
	}
	if err != nil {
		return Record{}, classify(err, "load record")
	}

	r.ParentID = FromPgUUID(parent)
	r.OriginMatriculas = SplitKeys(origins)
	entry := func(id *int32) *ReferenceEntry {
		if id == nil {
			return nil
		}
		return &ReferenceEntry{ID: *id}
	}
	r.PropertyType = entry(refs[0])
	r.Purpose = entry(refs[1])
	r.TransferStatus = entry(refs[2])
	r.PossessionType = entry(refs[3])
	r.BuildingUse = entry(refs[4])
	return r, nil
}

// valuesOf converts a stored record into the base of a patch update.
func valuesOf(r Record) recordValues {
	id := func(e *ReferenceEntry) *int32 {
		if e == nil {
			return nil
		}
		v := e.ID
		return &v
	}
	return recordValues{
		Matricula: r.Matricula,
		ParentID:  r.ParentID,
		References: map[Category]*int32{
			CategoryPropertyType:   id(r.PropertyType),
			CategoryPurpose:        id(r.Purpose),
			CategoryTransferStatus: id(r.TransferStatus),
			CategoryPossessionType: id(r.PossessionType),
			CategoryBuildingUse:    id(r.BuildingUse),
		},
		Location:             r.Location,
		Description:          r.Description,
		Area:                 r.Area,
		AssessedValue:        r.AssessedValue,
		Latitude:             r.Latitude,
		Longitude:            r.Longitude,
		Notes:                r.Notes,
		OriginMatriculas:     r.OriginMatriculas,
		RegistrationDocument: r.RegistrationDocument,
	}
}

// readInfrastructure returns the stored profile of id, or nil when there is
// none, the table is absent, or the read fails. Runs in a savepoint when q
// is a transaction so a failure does not poison it.
func readInfrastructure(ctx context.Context, q DBTX, id uuid.UUID) *InfrastructureProfile {
	logger := logging.WithFields(ctx, "record_id", id, "table", InfrastructureTable)

	var p *InfrastructureProfile
	err := withAuxiliary(ctx, q, func(q DBTX) error {
		exists, err := TableExists(ctx, q, InfrastructureTable)
		if err != nil || !exists {
			return err
		}
		var v InfrastructureProfile
		err = q.QueryRow(ctx, selectInfrastructureSQL, id).Scan(
			&v.Water, &v.Sewage, &v.Power, &v.Paving, &v.StreetLighting, &v.WasteCollection)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		p = &v
		return nil
	})
	if err != nil {
		logger.Warn("infrastructure read skipped", "error", err)
		auxiliarySkipped.WithLabelValues(InfrastructureTable).Inc()
		return nil
	}
	return p
}

// writeInfrastructure upserts the profile of id. A missing table is skipped
// silently; any other failure is logged and does not fail the caller.
func writeInfrastructure(ctx context.Context, tx pgx.Tx, id uuid.UUID, p InfrastructureProfile) {
	logger := logging.WithFields(ctx, "record_id", id, "table", InfrastructureTable)

	err := withAuxiliary(ctx, tx, func(q DBTX) error {
		exists, err := TableExists(ctx, q, InfrastructureTable)
		if err != nil {
			return err
		}
		if !exists {
			logger.Debug("infrastructure table absent, profile not stored")
			return nil
		}
		_, err = q.Exec(ctx, upsertInfrastructureSQL, id,
			p.Water, p.Sewage, p.Power, p.Paving, p.StreetLighting, p.WasteCollection)
		return err
	})
	if err != nil {
		logger.Warn("infrastructure write skipped", "sqlstate", pgCode(err), "error", err)
		auxiliarySkipped.WithLabelValues(InfrastructureTable).Inc()
	}
}

// withAuxiliary runs fn in a savepoint when q is a transaction, releasing it
// on success and rolling it back on failure.
func withAuxiliary(ctx context.Context, q DBTX, fn func(DBTX) error) error {
	tx, ok := q.(pgx.Tx)
	if !ok {
		return fn(q)
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
