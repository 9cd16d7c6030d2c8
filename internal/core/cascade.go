package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/imoveis/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Execute runs a deletion plan inside tx. For every id in plan order the
// dependent rows go first, then the record row itself.
//
// Auxiliary dependents run in a savepoint so that a table dropped since
// discovery is skipped. Any other failure, on any dependent or on a record
// row, aborts with IntegrityViolation (or StorageUnavailable); the caller
// must roll tx back. Execute never commits.
func Execute(ctx context.Context, tx pgx.Tx, plan DeletionPlan, dependents []Dependent) (DeleteResult, error) {
	result := DeleteResult{
		RecordID:      plan.Target.String(),
		DeletedCounts: make(map[string]int64),
	}
	logger := logging.WithFields(ctx, "record_id", plan.Target, "cascade", plan.Cascading())

	for _, id := range plan.Order {
		for _, dep := range dependents {
			n, err := deleteDependent(ctx, tx, dep, id)
			if err != nil {
				if skipAuxiliary(dep, err) {
					logger.Warn("auxiliary table missing, skipping",
						"table", dep.Table,
						"target", id,
					)
					auxiliarySkipped.WithLabelValues(dep.Table).Inc()
					continue
				}
				return DeleteResult{}, integrityError(err, "delete from %s for record %s", dep.Table, id)
			}
			if n > 0 {
				result.DeletedCounts[dep.Table] += n
			}
		}

		n, err := deleteRecordRow(ctx, tx, id)
		if err != nil {
			return DeleteResult{}, err
		}
		result.DeletedCounts[RecordsTable] += n
	}

	logger.Debug("deletion plan executed", "rows", result.Total())
	return result, nil
}

// deleteDependent removes the rows of dep that reference id. Auxiliary
// tables run in a savepoint so a failure leaves the outer tx usable.
func deleteDependent(ctx context.Context, tx pgx.Tx, dep Dependent, id uuid.UUID) (int64, error) {
	sql := dependentDeleteSQL(dep)

	if !dep.Auxiliary {
		tag, err := tx.Exec(ctx, sql, id)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := sp.Exec(ctx, sql, id)
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// skipAuxiliary reports whether a failed delete on dep may be ignored. Only
// an allow-listed table that no longer exists qualifies.
func skipAuxiliary(dep Dependent, err error) bool {
	return dep.Auxiliary && pgCode(err) == pgUndefinedTable
}

// dependentDeleteSQL builds the delete statement for one dependent table.
// Every referencing column is compared against the same parameter.
func dependentDeleteSQL(dep Dependent) string {
	conds := make([]string, len(dep.Columns))
	for i, col := range dep.Columns {
		conds[i] = quoteIdent(col) + " = $1"
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(dep.Table), strings.Join(conds, " OR "))
}

func deleteRecordRow(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", RecordsTable), id)
	if err != nil {
		return 0, integrityError(err, "delete record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return 0, notFound("record %s not found", id)
	}
	return tag.RowsAffected(), nil
}

// integrityError reports a failed deletion, keeping unavailability distinct.
func integrityError(err error, format string, args ...any) error {
	if isUnavailable(err) {
		return newError(KindStorageUnavailable, err, format, args...)
	}
	return newError(KindIntegrityViolation, err, format, args...)
}
