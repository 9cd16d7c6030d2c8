// Package references registers the property dictionaries with the core
// category registry. Import this package to ensure all categories are registered.
package references

import "github.com/JonMunkholm/imoveis/internal/core"

// Dictionary tables.
const (
	PropertyTypesTable    = "property_types"
	PurposesTable         = "purposes"
	TransferStatusesTable = "transfer_statuses"
	PossessionTypesTable  = "possession_types"
	BuildingUsesTable     = "building_uses"
)

// NotInformed is the placeholder entry for categories with no natural default.
const NotInformed = "Não informado"

func init() {
	core.RegisterCategory(core.CategoryDefinition{
		Key:      core.CategoryPropertyType,
		Table:    PropertyTypesTable,
		Column:   "property_type_id",
		Default:  NotInformed,
		Fallback: core.FallbackNone,
	})
	core.RegisterCategory(core.CategoryDefinition{
		Key:      core.CategoryPurpose,
		Table:    PurposesTable,
		Column:   "purpose_id",
		Default:  NotInformed,
		Fallback: core.FallbackNone,
	})
	core.RegisterCategory(core.CategoryDefinition{
		Key:      core.CategoryTransferStatus,
		Table:    TransferStatusesTable,
		Column:   "transfer_status_id",
		Default:  "Pendente",
		Fallback: core.FallbackDefault,
		Required: true,
	})
	core.RegisterCategory(core.CategoryDefinition{
		Key:      core.CategoryPossessionType,
		Table:    PossessionTypesTable,
		Column:   "possession_type_id",
		Default:  "Próprio",
		Fallback: core.FallbackDefault,
		Required: true,
	})
	core.RegisterCategory(core.CategoryDefinition{
		Key:      core.CategoryBuildingUse,
		Table:    BuildingUsesTable,
		Column:   "building_use_id",
		Default:  "Residencial",
		Fallback: core.FallbackDefault,
		Required: true,
	})
}
