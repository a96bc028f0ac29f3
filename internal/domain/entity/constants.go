package entity

// WorkflowType selects how steps of a workflow are activated.
type WorkflowType string

const (
	WorkflowTypeSequential WorkflowType = "SEQUENTIAL" // one active step at a time, by step number
	WorkflowTypeParallel   WorkflowType = "PARALLEL"   // all steps active; mandatory steps decide
)

// IsValid returns true for a known workflow type
func (t WorkflowType) IsValid() bool {
	return t == WorkflowTypeSequential || t == WorkflowTypeParallel
}

// RecordStatus is the status of a single ledger entry.
type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "PENDING"
	RecordStatusApproved RecordStatus = "APPROVED"
	RecordStatusRejected RecordStatus = "REJECTED"
)

// IsTerminal returns true once the record has been acted on
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusApproved || s == RecordStatusRejected
}

// RunStatus is the status of an entity's pass through a workflow.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusApproved   RunStatus = "APPROVED"
	RunStatusRejected   RunStatus = "REJECTED"
)

// EntityType tags the kind of governed business object.
type EntityType string

const (
	EntityTypeEOI              EntityType = "eoi"
	EntityTypeRequisition      EntityType = "requisition"
	EntityTypeVendorSubmission EntityType = "vendor_submission"
)

// EntityStatus is the overall status projected onto a governed entity.
type EntityStatus string

const (
	EntityStatusPending  EntityStatus = "pending"
	EntityStatusApproved EntityStatus = "approved"
	EntityStatusRejected EntityStatus = "rejected"
)

// MaxCommentLength bounds ApprovalRecord.Comments.
const MaxCommentLength = 500
