package core

// error_messages.go defines user-facing error messages.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Typed core errors (see [ErrorKind]) are mapped first. Anything else falls
// back to pattern matching on the technical error text.
//
// # Record Errors (REC001-REC099)
//
//	REC001 - Duplicate matrícula: Another property already uses this registration code
//	         Kind: duplicate_key
//
//	REC002 - Invalid reference: The parent record or category does not exist
//	         Kind: invalid_reference
//
//	REC003 - Has children: The property has subordinate records
//	         Action: Repeat the deletion with cascade enabled
//	         Kind: conflict_has_children
//
//	REC004 - Not found: The property does not exist
//	         Kind: not_found
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid input: One or more fields are missing or malformed
//	         Kind: validation_error
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Integrity violation: The operation was rolled back, nothing changed
//	        Kind: integrity_violation
//
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Kind: storage_unavailable (default), Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout", "deadline exceeded"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled: Request was cancelled
//	         Patterns: "context canceled"
//
//	REQ002 - Malformed request: The request body or a query parameter could not be read
//	         Raised by the HTTP layer before any operation runs
//
//	REQ003 - Rate limited: Too many requests from this address
//	         Raised by the HTTP layer
//
// # Default Error (ERR000)
//
// Fallback when no specific kind or pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns should be
// defined before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// kindMessages maps typed core errors to user messages.
var kindMessages = map[ErrorKind]UserMessage{
	KindValidation: {
		Message: "One or more fields are missing or invalid",
		Action:  "Review the submitted fields and try again",
		Code:    "VAL001",
	},
	KindDuplicateKey: {
		Message: "Another property already uses this matrícula",
		Action:  "Use a different matrícula or edit the existing property",
		Code:    "REC001",
	},
	KindInvalidReference: {
		Message: "The referenced parent property does not exist or cannot be a parent",
		Action:  "Choose an existing principal property as parent",
		Code:    "REC002",
	},
	KindConflictHasChildren: {
		Message: "This property has subordinate properties",
		Action:  "Repeat the deletion with cascade enabled to remove them as well",
		Code:    "REC003",
	},
	KindNotFound: {
		Message: "Property not found",
		Action:  "It may have been deleted; refresh and try again",
		Code:    "REC004",
	},
	KindIntegrityViolation: {
		Message: "The operation could not be completed and no data was changed",
		Action:  "Please try again or contact support",
		Code:    "DB001",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgUnique = UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for an existing record with the same value",
		Code:    "DB002",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Ensure the referenced record exists first",
		Code:    "DB003",
	}
	msgConnRefused = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}
	msgConnReset = UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Please try again later",
		Code:    "DB006",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	{pattern: "duplicate key", msg: msgUnique},
	{pattern: "unique constraint", msg: msgUnique},
	{pattern: "violates unique", msg: msgUnique},
	{pattern: "foreign key constraint", msg: msgForeignKey},
	{pattern: "violates foreign key", msg: msgForeignKey},
	{pattern: "connection refused", msg: msgConnRefused},
	{pattern: "connection reset", msg: msgConnReset},
	{pattern: "deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "deadlock", msg: msgDeadlock},
	{pattern: "context canceled", msg: msgCancelled},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error into a user-friendly message.
// Returns an empty UserMessage for nil errors.
//
// Example:
//
//	msg := MapError(err)
//	// msg.Code == "REC001"
//	// msg.Message == "Another property already uses this matrícula"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	kind := KindOf(err)
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}

	msg, matched := matchPattern(err)
	if kind == KindStorageUnavailable && !matched {
		return msgConnRefused
	}
	return msg
}

func matchPattern(err error) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return defaultMessage, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
