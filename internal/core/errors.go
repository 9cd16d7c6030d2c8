package core

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind is the machine-readable category of a core error.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindDuplicateKey        ErrorKind = "duplicate_key"
	KindInvalidReference    ErrorKind = "invalid_reference"
	KindConflictHasChildren ErrorKind = "conflict_has_children"
	KindNotFound            ErrorKind = "not_found"
	KindIntegrityViolation  ErrorKind = "integrity_violation"
	KindStorageUnavailable  ErrorKind = "storage_unavailable"
)

// Sentinels for use with errors.Is. Matching compares kinds only.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrDuplicateKey        = &Error{Kind: KindDuplicateKey}
	ErrInvalidReference    = &Error{Kind: KindInvalidReference}
	ErrConflictHasChildren = &Error{Kind: KindConflictHasChildren}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrIntegrityViolation  = &Error{Kind: KindIntegrityViolation}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable}
)

// Error is returned by every Service operation that fails for a domain reason.
type Error struct {
	Kind    ErrorKind
	Message string

	// Children is set for KindConflictHasChildren so callers can offer
	// an explicit cascading delete.
	Children []ChildSummary

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func notFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func invalidReference(format string, args ...any) *Error {
	return newError(KindInvalidReference, nil, format, args...)
}

func duplicateKey(matricula string) *Error {
	return newError(KindDuplicateKey, nil, "matricula %q already exists", matricula)
}

func conflictHasChildren(id string, children []ChildSummary) *Error {
	e := newError(KindConflictHasChildren, nil, "record %s has %d child record(s); cascade required", id, len(children))
	e.Children = children
	return e
}

// KindOf returns the kind of err, or "" if err is not a core error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ChildrenOf returns the blocking children carried by a conflict error.
func ChildrenOf(err error) []ChildSummary {
	var e *Error
	if errors.As(err, &e) {
		return e.Children
	}
	return nil
}

// PostgreSQL error codes the engine reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgUndefinedTable      = "42P01"
	pgQueryCanceled       = "57014"
	pgAdminShutdown       = "57P01"
	pgCannotConnectNow    = "57P03"
)

// pgCode returns the SQLSTATE of a PostgreSQL error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// pgConstraint returns the constraint name of a PostgreSQL error, or "".
func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// isUnavailable reports whether err means the storage engine could not be
// reached or the operation ran out of time.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch code := pgCode(err); {
	case code == pgQueryCanceled, code == pgAdminShutdown, code == pgCannotConnectNow:
		return true
	case len(code) == 5 && code[:2] == "08":
		return true
	}
	return false
}

// classify converts a storage error into a core error. Errors that are
// already core errors pass through unchanged.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if isUnavailable(err) {
		return newError(KindStorageUnavailable, err, "%s: storage unavailable", op)
	}
	switch pgCode(err) {
	case pgForeignKeyViolation:
		return newError(KindIntegrityViolation, err, "%s: referential integrity", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
