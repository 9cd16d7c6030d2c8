package web

import (
	"context"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/JonMunkholm/imoveis/internal/database"
)

// RecordService is the subset of core.Service the handlers use.
type RecordService interface {
	CreateRecord(ctx context.Context, in core.RecordInput) (core.CreateResult, error)
	UpdateRecord(ctx context.Context, id string, in core.RecordInput) error
	DeleteRecord(ctx context.Context, id string, cascade bool) (core.DeleteResult, error)
	GetRecord(ctx context.Context, id string) (core.Record, error)
	ListRecords(ctx context.Context, f core.RecordFilter) ([]core.RecordSummary, error)
	GetHierarchy(ctx context.Context, id string) (core.Hierarchy, error)
	ResolveReference(ctx context.Context, category, name string) (*int32, error)
	ListReferences(ctx context.Context, category string) ([]core.ReferenceEntry, error)
	DiscoverDependents(ctx context.Context) ([]core.Dependent, error)
	AuditLog(ctx context.Context, opts core.AuditLogOptions) ([]core.AuditEntry, error)
	RecordAudit(ctx context.Context, params core.AuditLogParams)
}

// Database is the pool owner, used by health checks and the admin API.
type Database interface {
	Ping(ctx context.Context) error
	DatabaseName() string
	Reconfigure(ctx context.Context, s database.Settings) error
}

var (
	_ RecordService = (*core.Service)(nil)
	_ Database      = (*database.Provider)(nil)
)
