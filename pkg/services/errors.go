// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
	"github.com/quantbench/quantflow/pkg/registry"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrFlowNil          = errors.New("flow cannot be nil")
	ErrEmptyUsername    = errors.New("username cannot be empty")

	// Not-found errors (404).
	ErrFlowNotFound       = persistence.ErrFlowNotFound
	ErrNodeConfigNotFound = persistence.ErrNodeConfigNotFound
	ErrTaskNotFound       = persistence.ErrTaskNotFound

	// Business logic conflicts (409 Conflict).
	ErrDuplicateFlowName = persistence.ErrDuplicateFlowName
	ErrDuplicateTask     = persistence.ErrDuplicateTask
)

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, ErrEmptyUsername) ||
		errors.Is(err, models.ErrInvalidCrontab) ||
		errors.Is(err, registry.ErrUnknownNodeKind)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateFlowName) ||
		errors.Is(err, ErrDuplicateTask)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrNodeConfigNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}
