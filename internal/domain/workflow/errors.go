package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the actor holds neither the step's role nor its delegation
	ErrUnauthorized = errors.New("not authorized to act on this approval step")

	// ErrDelegationNotAllowed is returned when delegating a step whose definition forbids it
	ErrDelegationNotAllowed = errors.New("delegation not allowed for this step")

	// ErrNotFound is returned when a record, workflow, user or entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when acting on a record or run that is no longer actionable
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidInput is returned for malformed requests (missing comments, self-delegation)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoApplicableWorkflow is returned when no active workflow covers an entity's value
	ErrNoApplicableWorkflow = errors.New("no applicable workflow")

	// ErrWorkflowInUse is returned when replacing steps of a workflow that runs already reference
	ErrWorkflowInUse = errors.New("workflow is referenced by approval runs")

	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = fmt.Errorf("%w: transition not permitted", ErrInvalidState)

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// ProjectionError reports that an approval outcome could not be written onto its
// governed entity. It is fatal to the enclosing transaction.
type ProjectionError struct {
	EntityType string
	EntityID   int64
	Cause      error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection failed for %s#%d: %v", e.EntityType, e.EntityID, e.Cause)
}

func (e *ProjectionError) Unwrap() error {
	return e.Cause
}
