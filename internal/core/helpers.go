package core

import (
	"fmt"
	"strings"
)

// WhereBuilder assembles a parameterized WHERE clause. Column names are
// trusted; values are always passed as arguments.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.addCondition(column+" = $%d", value)
}

// AddUUID appends an equality on a uuid column. Empty values are skipped.
func (wb *WhereBuilder) AddUUID(column, value string) {
	if value == "" {
		return
	}
	wb.addCondition(column+" = $%d::uuid", value)
}

// AddPrefix appends a case-insensitive prefix match. Empty values are skipped.
func (wb *WhereBuilder) AddPrefix(column, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
	wb.addCondition(column+" ILIKE $%d", escaped+"%")
}

// AddNull appends "column IS NULL" or "column IS NOT NULL".
func (wb *WhereBuilder) AddNull(column string, isNull bool) {
	if isNull {
		wb.conditions = append(wb.conditions, column+" IS NULL")
	} else {
		wb.conditions = append(wb.conditions, column+" IS NOT NULL")
	}
}

func (wb *WhereBuilder) addCondition(format string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf(format, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// NextArgIndex returns the placeholder number the next argument will take.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns the clause (with a leading space) and its arguments.
// Both are empty when no condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", wb.args
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// Page returns "LIMIT $n OFFSET $n+1" numbered after the current arguments.
// The caller appends limit and offset to the arguments.
func (wb *WhereBuilder) Page() string {
	n := wb.NextArgIndex()
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)
}
