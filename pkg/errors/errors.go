package errors

import (
	"fmt"

	"github.com/jafarshop/catalogsync/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when authentication fails
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflictingJob is returned when a tenant already has a pending or running sync job
type ErrConflictingJob struct {
	TenantID    string
	ActiveJobID string
}

func (e *ErrConflictingJob) Error() string {
	if e.ActiveJobID != "" {
		return fmt.Sprintf("tenant %s already has an active sync job: %s", e.TenantID, e.ActiveJobID)
	}
	return fmt.Sprintf("tenant %s already has an active sync job", e.TenantID)
}

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrInvalidStateTransition is returned when an invalid state transition is attempted
type ErrInvalidStateTransition struct {
	From domain.JobStatus
	To   domain.JobStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}
