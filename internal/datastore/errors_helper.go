// Package datastore provides error handling helpers for database operations
package datastore

import (
	"strings"

	"gorm.io/gorm"

	"github.com/cora-robotics/cora-server/internal/errors"
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation string, context ...interface{}) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	// Add context pairs
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error for malformed store inputs
func validationError(message, field string, value interface{}) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}

// conflictError creates a conflict error for unresolved constraint violations
func conflictError(err error, operation string, context ...interface{}) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError creates a not found error
func notFoundError(resource, identifier string) error {
	return errors.Newf("%s not found", resource).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("resource", resource).
		Context("identifier", identifier).
		Build()
}

// isDuplicateKeyError reports whether err is a uniqueness-constraint
// violation, covering the GORM sentinel plus the raw SQLite and MySQL
// message shapes.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unique constraint failed") ||
		strings.Contains(errStr, "duplicate entry") ||
		strings.Contains(errStr, "constraint failed: units.unit_id")
}
