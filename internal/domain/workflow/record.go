package workflow

import (
	"sync"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

var (
	recordBuilderOnce sync.Once
	recordBuilder     StateMachineBuilder
)

func recordMachineBuilder() StateMachineBuilder {
	recordBuilderOnce.Do(func() {
		b := NewBuilder()
		b.Configure(StatePending).
			Permit(TriggerApprove, StateApproved).
			Permit(TriggerReject, StateRejected).
			PermitReentry(TriggerDelegate)
		b.Configure(StateApproved)
		b.Configure(StateRejected)
		recordBuilder = b
	})
	return recordBuilder
}

// NewRecordMachine returns a machine positioned at the record's stored status.
// A Pending record accepts Approve, Reject and Delegate; terminal records accept nothing.
func NewRecordMachine(status entity.RecordStatus) StateMachine {
	return recordMachineBuilder().Build(StateOf(status))
}
