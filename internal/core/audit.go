package core

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"time"

	"github.com/JonMunkholm/imoveis/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionRecordCreate        AuditAction = "record_create"
	ActionRecordUpdate        AuditAction = "record_update"
	ActionRecordDelete        AuditAction = "record_delete"
	ActionRecordCascadeDelete AuditAction = "record_cascade_delete"
	ActionDatabaseReconnect   AuditAction = "database_reconnect"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// DefaultAuditLimit is the page size used when none is given.
const DefaultAuditLimit = 50

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       AuditAction    `json:"action"`
	Severity     AuditSeverity  `json:"severity"`
	RecordID     string         `json:"recordId,omitempty"`
	Matricula    string         `json:"matricula,omitempty"`
	ActorID      string         `json:"actorId,omitempty"`
	ActorName    string         `json:"actorName,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RowsAffected int64          `json:"rowsAffected,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditLogParams contains parameters for creating an audit log entry.
// Actor and request metadata are taken from the context.
type AuditLogParams struct {
	Action       AuditAction
	RecordID     string
	Matricula    string
	Details      map[string]any
	RowsAffected int64
}

// auditSeverity returns the appropriate severity for an action.
func auditSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionRecordCascadeDelete, ActionDatabaseReconnect:
		return SeverityCritical
	case ActionRecordDelete:
		return SeverityHigh
	case ActionRecordUpdate:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

const insertAuditSQL = `INSERT INTO audit_log
	(action, severity, record_id, matricula, actor_id, actor_name, ip_address, user_agent, details, rows_affected, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectAuditSQL = `SELECT id, action, severity, record_id, matricula, actor_id, actor_name,
	ip_address, user_agent, details, rows_affected, created_at
	FROM audit_log`

// AuditLogger writes and reads the audit trail.
type AuditLogger struct {
	pools PoolProvider
	clock Clock
}

// NewAuditLogger creates an audit logger over the current pool.
func NewAuditLogger(pools PoolProvider, clock Clock) *AuditLogger {
	if clock == nil {
		clock = systemClock{}
	}
	return &AuditLogger{pools: pools, clock: clock}
}

// Log inserts an audit entry.
func (a *AuditLogger) Log(ctx context.Context, params AuditLogParams) error {
	var details []byte
	if params.Details != nil {
		var err error
		details, err = json.Marshal(params.Details)
		if err != nil {
			details = nil // Fall back to nil if marshaling fails
		}
	}

	actor := ActorFromContext(ctx)
	_, err := a.pools.Pool().Exec(ctx, insertAuditSQL,
		string(params.Action),
		string(auditSeverity(params.Action)),
		ToPgText(params.RecordID),
		ToPgText(params.Matricula),
		ToPgText(actor.ID),
		ToPgText(actor.Name),
		parseIP(GetIPAddressFromContext(ctx)),
		ToPgText(GetUserAgentFromContext(ctx)),
		details,
		params.RowsAffected,
		a.clock.Now(),
	)
	return err
}

// Record logs an entry on a detached context after the operation committed.
// Failures are logged and otherwise ignored.
func (a *AuditLogger) Record(ctx context.Context, params AuditLogParams) {
	if a == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := a.Log(logCtx, params); err != nil {
		logging.WithFields(ctx, "action", params.Action, "record_id", params.RecordID).
			Warn("audit log write failed", "error", err)
	}
}

// AuditLogOptions contains options for querying audit logs.
type AuditLogOptions struct {
	RecordID string
	Action   AuditAction
	Limit    int
	Offset   int
}

// List returns audit entries newest first.
func (a *AuditLogger) List(ctx context.Context, opts AuditLogOptions) ([]AuditEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultAuditLimit
	}

	wb := NewWhereBuilder()
	wb.Add("record_id", opts.RecordID)
	wb.Add("action", string(opts.Action))
	where, args := wb.Build()

	query := selectAuditSQL + where + " ORDER BY created_at DESC" + wb.Page()
	args = append(args, opts.Limit, opts.Offset)

	rows, err := a.pools.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list audit log")
	}
	entries, err := pgx.CollectRows(rows, scanAuditRow)
	if err != nil {
		return nil, classify(err, "list audit log")
	}
	return entries, nil
}

// scanAuditRow scans a single row from audit_log into an AuditEntry.
func scanAuditRow(row pgx.CollectableRow) (AuditEntry, error) {
	var (
		id           pgtype.UUID
		action       string
		severity     string
		recordID     pgtype.Text
		matricula    pgtype.Text
		actorID      pgtype.Text
		actorName    pgtype.Text
		ipAddress    *netip.Addr
		userAgent    pgtype.Text
		details      []byte
		rowsAffected int64
		createdAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &action, &severity, &recordID, &matricula, &actorID, &actorName,
		&ipAddress, &userAgent, &details, &rowsAffected, &createdAt,
	)
	if err != nil {
		return AuditEntry{}, err
	}

	entry := AuditEntry{
		ID:           PgUUIDToString(id),
		Action:       AuditAction(action),
		Severity:     AuditSeverity(severity),
		RecordID:     recordID.String,
		Matricula:    matricula.String,
		ActorID:      actorID.String,
		ActorName:    actorName.String,
		UserAgent:    userAgent.String,
		RowsAffected: rowsAffected,
		CreatedAt:    createdAt.Time,
	}
	if ipAddress != nil {
		entry.IPAddress = ipAddress.String()
	}
	if details != nil {
		_ = json.Unmarshal(details, &entry.Details)
	}
	return entry, nil
}

// parseIP strips a port if present and parses the address. Returns nil
// (stored as NULL) when the value is not an IP.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}
