// Package core provides the business logic for real-estate record management.
//
// This package holds the record lifecycle and referential-integrity rules,
// independent of any transport layer. It can be used by web handlers, the
// admin CLI, or tests without modification.
//
// # Architecture
//
// The package is organized around a few components, leaves first:
//
//   - Category registry and resolver: map category names to dictionary ids,
//     synthesizing a default entry when a dictionary is empty.
//   - Introspection: discover at run time which tables reference the
//     records table, from the catalog plus a fixed allow-list.
//   - Hierarchy: validate parent links and build deletion plans.
//   - Cascade: execute a deletion plan inside one transaction.
//   - Upsert: validate, normalize and persist creates and updates.
//   - Service: the entry point; adds timeouts, tracing, metrics and audit.
//
// # Category Registry
//
// Categories are registered at init time using [RegisterCategory], normally
// by importing the references package:
//
//	core.RegisterCategory(core.CategoryDefinition{
//	    Key:      core.CategoryBuildingUse,
//	    Table:    "building_uses",
//	    Column:   "building_use_id",
//	    Default:  "Residencial",
//	    Fallback: core.FallbackDefault,
//	    Required: true,
//	})
//
// # Deletion
//
// [Service.DeleteRecord] plans, discovers dependents and executes in a single
// read-committed transaction:
//
//  1. [PlanDeletion] fails with ConflictHasChildren unless cascade is set
//  2. [DiscoverDependents] reads the catalog for referencing tables
//  3. [Execute] deletes dependents then records, children first
//
// Auxiliary tables run inside savepoints and are skipped on failure. Any
// other failure rolls the whole transaction back.
//
// # Error Handling
//
// Every failure carries an [ErrorKind]; use errors.Is with the Err*
// sentinels or [KindOf]. [MapError] turns errors into user-facing messages
// with support codes.
package core
