package engine

import (
	"errors"
	"fmt"

	"leadpulse/models"
	"leadpulse/store"
)

// NotFoundError reports a missing lead/campaign/sequence/script.
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// PolicyViolationError reports a send blocked by policy
// (DO_NOT_CONTACT, contact cap reached, and the like).
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return e.Reason
}

// AdapterError reports a channel provider send failure.
type AdapterError struct {
	Channel models.Channel
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %v", e.Channel, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// notFound converts a store lookup error into the taxonomy, passing other
// errors through wrapped.
func notFound(entity string, id uint, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("load %s %d: %w", entity, id, err)
}
