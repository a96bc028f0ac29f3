package workflow

import (
	"context"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// Engine executes approval workflows over the record ledger
type Engine interface {
	// Start puts an entity into the active workflow covering amount. A nil
	// amount selects by the entity's own budget.
	Start(ctx context.Context, ref entity.EntityRef, amount *float64) (*StartResult, error)

	// Approve resolves a pending record as approved and advances the run
	Approve(ctx context.Context, recordID int64, actor *entity.User, comments *string) (*ActionResult, error)

	// Reject resolves a pending record as rejected; comments are required
	Reject(ctx context.Context, recordID int64, actor *entity.User, comments *string) (*ActionResult, error)

	// Delegate authorizes one additional user to act on a pending record
	Delegate(ctx context.Context, recordID int64, requester *entity.User, delegateUserID int64) (*ActionResult, error)

	// EligibleDelegates lists holders of the step's role other than the requester
	EligibleDelegates(ctx context.Context, recordID int64, requester *entity.User) ([]*entity.User, error)

	// GetRecord returns one ledger record
	GetRecord(ctx context.Context, recordID int64) (*entity.ApprovalRecord, error)

	// History returns every ledger record of an entity across its runs
	History(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRecord, error)
}

// StartResult describes a freshly started run
type StartResult struct {
	Run      *entity.ApprovalRun        `json:"run"`
	Workflow *entity.WorkflowDefinition `json:"workflow"`
	Records  []*entity.ApprovalRecord   `json:"records"`
}

// ActionResult is the outcome of Approve, Reject or Delegate
type ActionResult struct {
	Record *entity.ApprovalRecord `json:"record"`

	// NextRecord is the record activated by a sequential approval, if any
	NextRecord *entity.ApprovalRecord `json:"next_record,omitempty"`

	RunStatus    entity.RunStatus     `json:"run_status"`
	EntityStatus *entity.EntityStatus `json:"entity_status,omitempty"`
	CurrentStep  *string              `json:"current_step,omitempty"`
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
