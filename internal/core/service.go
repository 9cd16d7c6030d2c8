package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultOperationTimeout bounds the storage work of one operation.
const DefaultOperationTimeout = 30 * time.Second

// Settings holds the behavior switches of the service.
type Settings struct {
	// OperationTimeout bounds every public operation. Expiry surfaces as
	// StorageUnavailable.
	OperationTimeout time.Duration

	NumericPolicy NumericPolicy
	UpdateMode    UpdateMode

	// Audit enables the audit trail.
	Audit bool
}

// DefaultSettings returns clamp/replace with a 30s timeout and auditing on.
func DefaultSettings() Settings {
	return Settings{
		OperationTimeout: DefaultOperationTimeout,
		NumericPolicy:    NumericClamp,
		UpdateMode:       UpdateReplace,
		Audit:            true,
	}
}

// Service provides the record lifecycle operations.
type Service struct {
	pools    PoolProvider
	settings Settings
	clock    Clock
	ids      IDGenerator
	audit    *AuditLogger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the clock used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// NewService creates a new Service instance.
func NewService(pools PoolProvider, settings Settings, opts ...Option) *Service {
	if settings.OperationTimeout <= 0 {
		settings.OperationTimeout = DefaultOperationTimeout
	}
	if settings.NumericPolicy == "" {
		settings.NumericPolicy = NumericClamp
	}
	if settings.UpdateMode == "" {
		settings.UpdateMode = UpdateReplace
	}

	s := &Service{
		pools:    pools,
		settings: settings,
		clock:    systemClock{},
		ids:      uuidGenerator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if settings.Audit {
		s.audit = NewAuditLogger(pools, s.clock)
	}
	return s
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) coordinator() coordinator {
	return coordinator{
		policy: s.settings.NumericPolicy,
		mode:   s.settings.UpdateMode,
		clock:  s.clock,
		ids:    s.ids,
	}
}

// CreateRecord validates and inserts a new record.
func (s *Service) CreateRecord(ctx context.Context, in RecordInput) (result CreateResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "CreateRecord")
	defer func(start time.Time) { finishOperation(span, "create", start, err) }(time.Now())

	var id uuid.UUID
	err = s.inTx(ctx, "create record", func(tx pgx.Tx) error {
		var err error
		id, err = s.coordinator().create(ctx, tx, in)
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}

	span.SetAttributes(attribute.String("record.id", id.String()))
	s.audit.Record(ctx, AuditLogParams{
		Action:    ActionRecordCreate,
		RecordID:  id.String(),
		Matricula: strings.TrimSpace(*in.Matricula),
	})
	return CreateResult{ID: id.String()}, nil
}

// UpdateRecord overwrites a record according to the configured UpdateMode.
func (s *Service) UpdateRecord(ctx context.Context, id string, in RecordInput) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "UpdateRecord", attribute.String("record.id", id))
	defer func(start time.Time) { finishOperation(span, "update", start, err) }(time.Now())

	rid, err := parseID(id)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, "update record", func(tx pgx.Tx) error {
		return s.coordinator().update(ctx, tx, rid, in)
	})
	if err != nil {
		return err
	}

	params := AuditLogParams{
		Action:   ActionRecordUpdate,
		RecordID: rid.String(),
		Details:  map[string]any{"mode": string(s.settings.UpdateMode)},
	}
	if in.Matricula != nil {
		params.Matricula = strings.TrimSpace(*in.Matricula)
	}
	s.audit.Record(ctx, params)
	return nil
}

// DeleteRecord removes a record with all rows referencing it. When the
// record has children and cascade is false it fails with
// ConflictHasChildren; with cascade the children go too. Everything happens
// in one transaction.
func (s *Service) DeleteRecord(ctx context.Context, id string, cascade bool) (result DeleteResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "DeleteRecord",
		attribute.String("record.id", id),
		attribute.Bool("cascade", cascade),
	)
	defer func(start time.Time) { finishOperation(span, "delete", start, err) }(time.Now())

	rid, err := parseID(id)
	if err != nil {
		return DeleteResult{}, err
	}

	var plan DeletionPlan
	err = s.inTx(ctx, "delete record", func(tx pgx.Tx) error {
		var err error
		plan, err = PlanDeletion(ctx, tx, rid, cascade)
		if err != nil {
			return err
		}
		dependents, err := DiscoverDependents(ctx, tx, RecordsTable)
		if err != nil {
			return err
		}
		result, err = Execute(ctx, tx, plan, dependents)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}

	for table, n := range result.DeletedCounts {
		rowsDeleted.WithLabelValues(table).Add(float64(n))
	}
	span.SetAttributes(attribute.Int64("rows.deleted", result.Total()))

	action := ActionRecordDelete
	if plan.Cascading() {
		action = ActionRecordCascadeDelete
	}
	s.audit.Record(ctx, AuditLogParams{
		Action:       action,
		RecordID:     rid.String(),
		RowsAffected: result.Total(),
		Details:      map[string]any{"deletedCounts": result.DeletedCounts, "children": len(plan.Children)},
	})
	return result, nil
}

// GetRecord returns a record with its category names and infrastructure.
func (s *Service) GetRecord(ctx context.Context, id string) (rec Record, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "GetRecord", attribute.String("record.id", id))
	defer func(start time.Time) { finishOperation(span, "get", start, err) }(time.Now())

	rid, err := parseID(id)
	if err != nil {
		return Record{}, err
	}

	pool := s.pools.Pool()
	rec, err = loadRecord(ctx, pool, rid, false)
	if err != nil {
		return Record{}, err
	}

	fields := map[Category]**ReferenceEntry{
		CategoryPropertyType:   &rec.PropertyType,
		CategoryPurpose:        &rec.Purpose,
		CategoryTransferStatus: &rec.TransferStatus,
		CategoryPossessionType: &rec.PossessionType,
		CategoryBuildingUse:    &rec.BuildingUse,
	}

	g, gctx := errgroup.WithContext(ctx)
	for category, field := range fields {
		if *field == nil {
			continue
		}
		id := (*field).ID
		g.Go(func() error {
			entry, err := referenceEntry(gctx, pool, category, &id)
			if err != nil {
				return err
			}
			*field = entry
			return nil
		})
	}
	g.Go(func() error {
		rec.Infrastructure = readInfrastructure(gctx, pool, rid)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Record{}, classify(err, "get record")
	}
	return rec, nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	MatriculaPrefix string
	ParentID        string
	PrincipalOnly   bool
	Limit           int
	Offset          int
}

// DefaultListLimit is the page size of ListRecords when none is given.
const DefaultListLimit = 100

// ListRecords returns record summaries ordered by matricula.
func (s *Service) ListRecords(ctx context.Context, f RecordFilter) (list []RecordSummary, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "ListRecords")
	defer func(start time.Time) { finishOperation(span, "list", start, err) }(time.Now())

	if f.ParentID != "" {
		if _, err := parseID(f.ParentID); err != nil {
			return nil, err
		}
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = DefaultListLimit
	}

	wb := NewWhereBuilder()
	wb.AddPrefix("matricula", f.MatriculaPrefix)
	wb.AddUUID("parent_id", f.ParentID)
	if f.PrincipalOnly {
		wb.AddNull("parent_id", true)
	}
	where, args := wb.Build()

	query := "SELECT id, matricula, COALESCE(description, ''), parent_id FROM " + RecordsTable +
		where + " ORDER BY matricula" + wb.Page()
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pools.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list records")
	}
	list, err = pgx.CollectRows(rows, pgx.RowToStructByPos[RecordSummary])
	if err != nil {
		return nil, classify(err, "list records")
	}
	return list, nil
}

// GetHierarchy returns a record with its parent and children.
func (s *Service) GetHierarchy(ctx context.Context, id string) (h Hierarchy, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "GetHierarchy", attribute.String("record.id", id))
	defer func(start time.Time) { finishOperation(span, "hierarchy", start, err) }(time.Now())

	rid, err := parseID(id)
	if err != nil {
		return Hierarchy{}, err
	}
	return GetHierarchy(ctx, s.pools.Pool(), rid)
}

// ResolveReference exposes the resolver for diagnostics. A nil id means the
// name resolved to unset.
func (s *Service) ResolveReference(ctx context.Context, category, name string) (id *int32, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "ResolveReference", attribute.String("category", category))
	defer func(start time.Time) { finishOperation(span, "resolve", start, err) }(time.Now())

	return Resolve(ctx, s.pools.Pool(), Category(category), name)
}

// ListReferences returns the entries of a category's dictionary.
func (s *Service) ListReferences(ctx context.Context, category string) (entries []ReferenceEntry, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "ListReferences", attribute.String("category", category))
	defer func(start time.Time) { finishOperation(span, "references", start, err) }(time.Now())

	return ListReferences(ctx, s.pools.Pool(), Category(category))
}

// DiscoverDependents reports the tables a deletion would touch.
func (s *Service) DiscoverDependents(ctx context.Context) (deps []Dependent, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	ctx, span := startSpan(ctx, "DiscoverDependents")
	defer func(start time.Time) { finishOperation(span, "dependents", start, err) }(time.Now())

	return DiscoverDependents(ctx, s.pools.Pool(), RecordsTable)
}

// SeedDefaults inserts the default entry of every empty dictionary.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()

	var n int
	err := s.inTx(ctx, "seed defaults", func(tx pgx.Tx) error {
		var err error
		n, err = SeedDefaults(ctx, tx)
		return err
	})
	return n, err
}

// AuditLog returns audit entries, newest first. Returns nothing when
// auditing is disabled.
func (s *Service) AuditLog(ctx context.Context, opts AuditLogOptions) ([]AuditEntry, error) {
	if s.audit == nil {
		return []AuditEntry{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()
	return s.audit.List(ctx, opts)
}

// RecordAudit writes an audit entry for an action performed outside the
// record operations, such as a database reconnect.
func (s *Service) RecordAudit(ctx context.Context, params AuditLogParams) {
	s.audit.Record(ctx, params)
}

// inTx runs fn in a read-committed transaction, committing on success.
func (s *Service) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pools.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err, op)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) // No-op if already committed

	if err := fn(tx); err != nil {
		return classify(err, op)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, op)
	}
	return nil
}

func parseID(id string) (uuid.UUID, error) {
	rid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, validationError("invalid record id %q", id)
	}
	return rid, nil
}
