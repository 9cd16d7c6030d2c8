package core

import (
	"fmt"
	"sort"
	"sync"
)

// Category names one of the dictionary tables a record points into.
type Category string

const (
	CategoryPropertyType   Category = "property_type"
	CategoryPurpose        Category = "purpose"
	CategoryTransferStatus Category = "transfer_status"
	CategoryPossessionType Category = "possession_type"
	CategoryBuildingUse    Category = "building_use"
)

// FallbackPolicy decides what Resolve does with a name that has no match.
type FallbackPolicy int

const (
	// FallbackNone leaves an unmatched name unset.
	FallbackNone FallbackPolicy = iota
	// FallbackDefault maps an unmatched name to the lowest-id entry,
	// synthesizing the category default when the dictionary is empty.
	FallbackDefault
)

func (p FallbackPolicy) String() string {
	if p == FallbackDefault {
		return "default"
	}
	return "none"
}

// CategoryDefinition is one row of the category configuration table.
type CategoryDefinition struct {
	Key      Category
	Table    string
	Column   string // column on the records table
	Default  string // literal entry synthesized into an empty dictionary
	Fallback FallbackPolicy

	// Required categories are never stored unset: the coordinator falls
	// back to Default when resolution yields nothing.
	Required bool
}

var (
	categories   = make(map[Category]CategoryDefinition)
	categoriesMu sync.RWMutex
)

// RegisterCategory adds a category definition to the registry.
// Panics if a category with the same key is already registered.
func RegisterCategory(def CategoryDefinition) {
	categoriesMu.Lock()
	defer categoriesMu.Unlock()

	if _, exists := categories[def.Key]; exists {
		panic(fmt.Sprintf("category already registered: %s", def.Key))
	}
	if def.Table == "" || def.Column == "" {
		panic(fmt.Sprintf("category %s: table and column are required", def.Key))
	}

	categories[def.Key] = def
}

// GetCategory returns a category definition by key.
func GetCategory(key Category) (CategoryDefinition, bool) {
	categoriesMu.RLock()
	defer categoriesMu.RUnlock()

	def, ok := categories[key]
	return def, ok
}

// Categories returns all registered definitions sorted by key.
func Categories() []CategoryDefinition {
	categoriesMu.RLock()
	defer categoriesMu.RUnlock()

	result := make([]CategoryDefinition, 0, len(categories))
	for _, def := range categories {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// ApplyPolicies overrides the fallback and required flags of registered
// categories. Categories listed in fallback get FallbackDefault, all others
// FallbackNone; the same goes for required. A nil slice leaves that flag
// untouched. Unknown keys are reported as an error and nothing is changed.
func ApplyPolicies(fallback, required []string) error {
	categoriesMu.Lock()
	defer categoriesMu.Unlock()

	for _, list := range [][]string{fallback, required} {
		for _, k := range list {
			if _, ok := categories[Category(k)]; !ok {
				return fmt.Errorf("unknown category: %s", k)
			}
		}
	}

	for key, def := range categories {
		if fallback != nil {
			def.Fallback = FallbackNone
			if contains(fallback, string(key)) {
				def.Fallback = FallbackDefault
			}
		}
		if required != nil {
			def.Required = contains(required, string(key))
		}
		categories[key] = def
	}
	return nil
}

// CategoryCount returns the number of registered categories.
func CategoryCount() int {
	categoriesMu.RLock()
	defer categoriesMu.RUnlock()
	return len(categories)
}

// ClearCategories removes all registered categories.
// Primarily useful for testing.
func ClearCategories() {
	categoriesMu.Lock()
	defer categoriesMu.Unlock()
	categories = make(map[Category]CategoryDefinition)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
