package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	childrenQuery = fmt.Sprintf(`SELECT id, matricula, COALESCE(description, '')
		FROM %s WHERE parent_id = $1 ORDER BY id`, RecordsTable)

	summaryQuery = fmt.Sprintf(`SELECT id, matricula, COALESCE(description, ''), parent_id
		FROM %s WHERE id = $1`, RecordsTable)
)

// ValidateParent checks that parentID may be used as the parent of the
// record selfID (nil on create).
//
// Only two levels are modeled: the parent must exist and be a principal,
// a record cannot be its own parent, and a record that already has
// children cannot become a child.
func ValidateParent(ctx context.Context, q DBTX, parentID uuid.UUID, selfID *uuid.UUID) error {
	if selfID != nil && *selfID == parentID {
		return invalidReference("record cannot be its own parent")
	}

	parent, err := loadSummary(ctx, q, parentID)
	if errors.Is(err, ErrNotFound) {
		return invalidReference("parent record %s does not exist", parentID)
	}
	if err != nil {
		return err
	}
	if parent.ParentID != nil {
		return invalidReference("parent record %s is itself a child record", parentID)
	}

	if selfID != nil {
		var hasChildren bool
		sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE parent_id = $1)", RecordsTable)
		if err := q.QueryRow(ctx, sql, *selfID).Scan(&hasChildren); err != nil {
			return classify(err, "validate parent")
		}
		if hasChildren {
			return invalidReference("record %s has child records and cannot become a child", *selfID)
		}
	}
	return nil
}

// ListChildren returns the direct children of id ordered by id.
func ListChildren(ctx context.Context, q DBTX, id uuid.UUID) ([]ChildSummary, error) {
	rows, err := q.Query(ctx, childrenQuery, id)
	if err != nil {
		return nil, classify(err, "list children")
	}
	children, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ChildSummary])
	if err != nil {
		return nil, classify(err, "list children")
	}
	return children, nil
}

// PlanDeletion builds the deletion plan for id.
//
// Fails with NotFound when id does not exist, and with ConflictHasChildren
// (carrying the children) when children exist and cascade is false.
func PlanDeletion(ctx context.Context, q DBTX, id uuid.UUID, cascade bool) (DeletionPlan, error) {
	if _, err := loadSummary(ctx, q, id); err != nil {
		return DeletionPlan{}, err
	}

	children, err := ListChildren(ctx, q, id)
	if err != nil {
		return DeletionPlan{}, err
	}
	return buildDeletionPlan(id, children, cascade)
}

// buildDeletionPlan orders children before the target.
func buildDeletionPlan(id uuid.UUID, children []ChildSummary, cascade bool) (DeletionPlan, error) {
	if len(children) > 0 && !cascade {
		return DeletionPlan{}, conflictHasChildren(id.String(), children)
	}

	order := make([]uuid.UUID, 0, len(children)+1)
	for _, c := range children {
		order = append(order, c.ID)
	}
	order = append(order, id)

	return DeletionPlan{Target: id, Children: children, Order: order}, nil
}

// GetHierarchy returns the record, its parent (if any) and its children.
func GetHierarchy(ctx context.Context, q DBTX, id uuid.UUID) (Hierarchy, error) {
	rec, err := loadSummary(ctx, q, id)
	if err != nil {
		return Hierarchy{}, err
	}

	h := Hierarchy{Record: rec, Children: []ChildSummary{}}
	if rec.ParentID != nil {
		parent, err := loadSummary(ctx, q, *rec.ParentID)
		switch {
		case err == nil:
			h.Parent = &parent
		case !errors.Is(err, ErrNotFound):
			return Hierarchy{}, err
		}
	}

	children, err := ListChildren(ctx, q, id)
	if err != nil {
		return Hierarchy{}, err
	}
	if children != nil {
		h.Children = children
	}
	return h, nil
}

func loadSummary(ctx context.Context, q DBTX, id uuid.UUID) (RecordSummary, error) {
	var (
		s      RecordSummary
		parent pgtype.UUID
	)
	err := q.QueryRow(ctx, summaryQuery, id).Scan(&s.ID, &s.Matricula, &s.Description, &parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return RecordSummary{}, notFound("record %s not found", id)
	}
	if err != nil {
		return RecordSummary{}, classify(err, "load record")
	}
	s.ParentID = FromPgUUID(parent)
	return s, nil
}
