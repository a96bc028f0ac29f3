package port

import (
	"context"
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// WorkflowRepository defines persistence operations for workflow definitions and their steps
type WorkflowRepository interface {
	// Create stores a workflow and its steps, filling in generated IDs
	Create(ctx context.Context, wf *entity.WorkflowDefinition) error

	// ReplaceSteps swaps the step list of a workflow no run references yet
	ReplaceSteps(ctx context.Context, workflowID int64, steps []entity.StepDefinition) error

	// SetActive toggles whether the workflow is offered to new runs
	SetActive(ctx context.Context, workflowID int64, active bool) error

	// GetWorkflow returns the workflow with steps ordered by step number
	GetWorkflow(ctx context.Context, workflowID int64) (*entity.WorkflowDefinition, error)

	// GetByName returns the workflow with the given unique name
	GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error)

	// List returns all workflows ordered by ID
	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)

	// ListActive returns active workflows ordered by ID
	ListActive(ctx context.Context) ([]*entity.WorkflowDefinition, error)

	// IsReferenced reports whether any approval run uses the workflow
	IsReferenced(ctx context.Context, workflowID int64) (bool, error)
}

// WorkflowReader is the read side of the definition store used by the engine
type WorkflowReader interface {
	GetWorkflow(ctx context.Context, workflowID int64) (*entity.WorkflowDefinition, error)

	// NextStep returns the step following currentStepNumber, or ok=false after the last step
	NextStep(ctx context.Context, workflowID int64, currentStepNumber int) (step *entity.StepDefinition, ok bool, err error)

	// FindApplicable returns the lowest-ID active workflow whose amount range covers amount
	FindApplicable(ctx context.Context, amount float64) (*entity.WorkflowDefinition, error)
}

// ApprovalRunRepository defines persistence operations for ApprovalRun
type ApprovalRunRepository interface {
	Create(ctx context.Context, run *entity.ApprovalRun) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRun, error)

	// GetActive returns the IN_PROGRESS run of an entity, or ErrNotFound
	GetActive(ctx context.Context, ref entity.EntityRef) (*entity.ApprovalRun, error)

	// ListByEntity returns every run of the entity, oldest first
	ListByEntity(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRun, error)

	// Resolve moves an IN_PROGRESS run to its outcome. Returns ErrInvalidState
	// if the run was already resolved.
	Resolve(ctx context.Context, id int64, status entity.RunStatus, at time.Time) error
}

// RecordDecision is the write applied when an approver acts on a record
type RecordDecision struct {
	Status     entity.RecordStatus
	ApproverID int64
	Comments   *string
	ActionDate time.Time
}

// ApprovalRecordRepository defines persistence operations for the approval ledger
type ApprovalRecordRepository interface {
	Create(ctx context.Context, rec *entity.ApprovalRecord) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRecord, error)

	// Resolve applies a decision to a record that is still PENDING. Returns
	// ErrInvalidState if another writer resolved it first.
	Resolve(ctx context.Context, id int64, d RecordDecision) error

	// SetDelegate names a delegate on a PENDING record. Returns ErrInvalidState
	// if the record is no longer pending.
	SetDelegate(ctx context.Context, id int64, delegateTo int64, at time.Time) error

	// ListByRun returns the records of one run ordered by creation
	ListByRun(ctx context.Context, runID int64) ([]*entity.ApprovalRecord, error)

	// ListByEntity returns all records of an entity across runs ordered by creation
	ListByEntity(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRecord, error)

	// CountOutstandingMandatory counts mandatory steps of the workflow with no
	// APPROVED record in the run
	CountOutstandingMandatory(ctx context.Context, runID, workflowID int64) (int, error)

	// ListPendingFor returns actionable PENDING records of in-progress runs whose
	// step role matches the user's role or that are delegated to the user,
	// newest first
	ListPendingFor(ctx context.Context, userID int64, role string) ([]*entity.ApprovalRecord, error)

	// ListCompletedBy returns records the user resolved, most recent action first
	ListCompletedBy(ctx context.Context, userID int64) ([]*entity.ApprovalRecord, error)

	// ListStalePending returns actionable PENDING records created before the cutoff
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.ApprovalRecord, error)
}

// ReminderRepository tracks reminders sent for pending records
type ReminderRepository interface {
	Get(ctx context.Context, recordID int64) (*entity.ApprovalReminder, error)
	LastAttempt(ctx context.Context, recordID int64) (*entity.ReminderAttempt, error)
	// MarkSent records a delivered reminder, which is also an attempt
	MarkSent(ctx context.Context, recordID int64, at time.Time) error
	// MarkFailed records an attempt that did not reach every recipient
	MarkFailed(ctx context.Context, recordID int64, at time.Time, cause error) error
}

// UserDirectory resolves users and their roles
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*entity.User, error)
	UsersWithRole(ctx context.Context, role string) ([]*entity.User, error)
	Upsert(ctx context.Context, u *entity.User) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
