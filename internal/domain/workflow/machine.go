package workflow

import (
	"context"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// StateMachine holds one approval record's state and guards its transitions.
type StateMachine interface {
	State() State
	CanFire(trigger Trigger) bool
	// Fire moves to the trigger's destination, or returns ErrInvalidTransition
	// and keeps the current state.
	Fire(ctx context.Context, trigger Trigger) error
	PermittedTriggers() []Trigger
}

// Transition applies an approver action to a record in the given status and
// returns the status the record must be stored with.
func Transition(ctx context.Context, current entity.RecordStatus, trigger Trigger) (entity.RecordStatus, error) {
	m := NewRecordMachine(current)
	if err := m.Fire(ctx, trigger); err != nil {
		return current, err
	}
	return m.State().RecordStatus(), nil
}
