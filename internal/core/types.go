package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PoolProvider hands out the connection pool currently in use.
// The pool may be swapped between calls by an explicit reconfiguration.
type PoolProvider interface {
	Pool() *pgxpool.Pool
}

// Clock supplies the current time for creation/update stamping.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() uuid.UUID
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() uuid.UUID { return uuid.New() }

// Table names for the primary entity and its companions.
const (
	RecordsTable        = "properties"
	InfrastructureTable = "property_infrastructure"
	DocumentsTable      = "property_documents"
)

// Record is a single real-estate asset as stored.
type Record struct {
	ID                   uuid.UUID              `json:"id"`
	Matricula            string                 `json:"matricula"`
	ParentID             *uuid.UUID             `json:"parentId,omitempty"`
	PropertyType         *ReferenceEntry        `json:"propertyType,omitempty"`
	Purpose              *ReferenceEntry        `json:"purpose,omitempty"`
	TransferStatus       *ReferenceEntry        `json:"transferStatus,omitempty"`
	PossessionType       *ReferenceEntry        `json:"possessionType,omitempty"`
	BuildingUse          *ReferenceEntry        `json:"buildingUse,omitempty"`
	Location             string                 `json:"location"`
	Description          string                 `json:"description"`
	Area                 float64                `json:"area"`
	AssessedValue        float64                `json:"assessedValue"`
	Latitude             float64                `json:"latitude"`
	Longitude            float64                `json:"longitude"`
	Notes                string                 `json:"notes"`
	OriginMatriculas     []string               `json:"originMatriculas"`
	RegistrationDocument string                 `json:"registrationDocument"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
	CreatedByID          string                 `json:"createdById,omitempty"`
	CreatedByName        string                 `json:"createdByName,omitempty"`
	Infrastructure       *InfrastructureProfile `json:"infrastructure,omitempty"`
}

// IsPrincipal reports whether the record has no parent.
func (r Record) IsPrincipal() bool {
	return r.ParentID == nil
}

// InfrastructureProfile holds the service-availability flags of a record.
type InfrastructureProfile struct {
	Water           bool `json:"water"`
	Sewage          bool `json:"sewage"`
	Power           bool `json:"power"`
	Paving          bool `json:"paving"`
	StreetLighting  bool `json:"streetLighting"`
	WasteCollection bool `json:"wasteCollection"`
}

// ReferenceEntry is a row of one of the dictionary tables.
type ReferenceEntry struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// ChildSummary identifies a child record to a user deciding on a cascade.
type ChildSummary struct {
	ID          uuid.UUID `json:"id"`
	Matricula   string    `json:"matricula"`
	Description string    `json:"description"`
}

// RecordSummary is the short form of a record used in hierarchy views.
type RecordSummary struct {
	ID          uuid.UUID  `json:"id"`
	Matricula   string     `json:"matricula"`
	Description string     `json:"description"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`
}

// Hierarchy describes a record together with its parent and children.
type Hierarchy struct {
	Record   RecordSummary  `json:"record"`
	Parent   *RecordSummary `json:"parent,omitempty"`
	Children []ChildSummary `json:"children"`
}

// Dependent is a table holding references to the primary entity table.
type Dependent struct {
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Auxiliary bool     `json:"auxiliary"`
}

// DeletionPlan lists the records to remove, in execution order.
// Children come first (ascending id), the target is always last.
type DeletionPlan struct {
	Target   uuid.UUID
	Children []ChildSummary
	Order    []uuid.UUID
}

// Cascading reports whether the plan removes child records.
func (p DeletionPlan) Cascading() bool {
	return len(p.Children) > 0
}

// DeleteResult reports the rows removed per table.
type DeleteResult struct {
	RecordID      string           `json:"recordId"`
	DeletedCounts map[string]int64 `json:"deletedCounts"`
}

// Total returns the number of rows removed across all tables.
func (r DeleteResult) Total() int64 {
	var n int64
	for _, c := range r.DeletedCounts {
		n += c
	}
	return n
}

// CreateResult is returned by a successful create.
type CreateResult struct {
	ID string `json:"id"`
}
