package event

// Type identifies the type of domain event
type Type string

const (
	TypeRunStarted    Type = "approval.run_started"
	TypeStepActivated Type = "approval.step_activated"
	TypeApproved      Type = "approval.approved"
	TypeRejected      Type = "approval.rejected"
	TypeDelegated     Type = "approval.delegated"
	TypeRunResolved   Type = "approval.run_resolved"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRunStarted,
		TypeStepActivated,
		TypeApproved,
		TypeRejected,
		TypeDelegated,
		TypeRunResolved:
		return true
	default:
		return false
	}
}
