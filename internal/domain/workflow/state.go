package workflow

import "github.com/garyjia/procurement-approval/internal/domain/entity"

// State represents the lifecycle state of a single approval record
type State string

const (
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateRejected State = "REJECTED"
)

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected:
		return true
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid record state
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	}
	return false
}

// StateOf maps a stored record status to its machine state
func StateOf(status entity.RecordStatus) State {
	return State(status)
}

// RecordStatus maps the machine state back to the stored record status
func (s State) RecordStatus() entity.RecordStatus {
	return entity.RecordStatus(s)
}
