package entity

import (
	"fmt"
	"time"
)

// EntityRef is a polymorphic reference to a governed entity.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   int64      `json:"entity_id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}

// ApprovalRun is one pass of a governed entity through one workflow.
// At most one run per entity is IN_PROGRESS.
type ApprovalRun struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	WorkflowID int64      `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Ref returns the governed entity of the run
func (r *ApprovalRun) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// IsResolved returns true once the run reached a final outcome
func (r *ApprovalRun) IsResolved() bool {
	return r.Status != RunStatusInProgress
}

// ApprovalRecord is a ledger entry: the decision on one step for one entity.
// Once APPROVED or REJECTED it is never mutated again.
type ApprovalRecord struct {
	ID         int64        `json:"id"`
	RunID      int64        `json:"run_id"`
	EntityType EntityType   `json:"entity_type"`
	EntityID   int64        `json:"entity_id"`
	StepID     int64        `json:"step_id"`
	Status     RecordStatus `json:"status"`
	ApproverID *int64       `json:"approver_id,omitempty"`
	DelegateTo *int64       `json:"delegate_to,omitempty"`
	Comments   *string      `json:"comments,omitempty"`
	ActionDate *time.Time   `json:"action_date,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Ref returns the governed entity of the record
func (r *ApprovalRecord) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// IsDelegatedTo reports whether userID was named as the record's delegate.
func (r *ApprovalRecord) IsDelegatedTo(userID int64) bool {
	return r.DelegateTo != nil && *r.DelegateTo == userID
}

// ApprovalReminder tracks reminders sent for a pending record.
type ApprovalReminder struct {
	RecordID  int64     `json:"record_id"`
	SentAt    time.Time `json:"sent_at"`
	SentCount int       `json:"sent_count"`
}

// ReminderAttempt is the latest reminder try for a record. Failures counts
// consecutive failed tries and resets on success.
type ReminderAttempt struct {
	RecordID    int64     `json:"record_id"`
	AttemptedAt time.Time `json:"attempted_at"`
	Failures    int       `json:"failures"`
	LastError   *string   `json:"last_error,omitempty"`
}
