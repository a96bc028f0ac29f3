package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// StepNotStarted marks timeline steps of a sequential run that have no record yet
const StepNotStarted = "NOT_STARTED"

// TimelineEntry is one step of a run as shown next to a pending item
type TimelineEntry struct {
	StepNumber   int        `json:"step_number"`
	StepName     string     `json:"step_name"`
	ApproverRole string     `json:"approver_role"`
	IsMandatory  bool       `json:"is_mandatory"`
	Status       string     `json:"status"`
	ApproverID   *int64     `json:"approver_id,omitempty"`
	ActionDate   *time.Time `json:"action_date,omitempty"`
	Comments     *string    `json:"comments,omitempty"`
}

// PendingItem is an actionable record in an approver's queue
type PendingItem struct {
	Record       *entity.ApprovalRecord `json:"record"`
	WorkflowName string                 `json:"workflow_name"`
	WorkflowType entity.WorkflowType    `json:"workflow_type"`
	Step         *entity.StepDefinition `json:"step"`
	Entity       *entity.EntitySummary  `json:"entity,omitempty"`
	// AsDelegate is set when the approver acts through delegation, not role
	AsDelegate bool            `json:"as_delegate"`
	Timeline   []TimelineEntry `json:"timeline"`
}

// CompletedItem is a record the approver resolved or was delegated
type CompletedItem struct {
	Record       *entity.ApprovalRecord `json:"record"`
	WorkflowName string                 `json:"workflow_name"`
	Step         *entity.StepDefinition `json:"step"`
	Entity       *entity.EntitySummary  `json:"entity,omitempty"`
}

// DashboardService answers the approver-facing queries
type DashboardService interface {
	PendingForApprover(ctx context.Context, user *entity.User) ([]*PendingItem, error)
	CompletedByApprover(ctx context.Context, user *entity.User) ([]*CompletedItem, error)
}

type dashboardServiceImpl struct {
	records     port.ApprovalRecordRepository
	runs        port.ApprovalRunRepository
	definitions port.WorkflowReader
	projector   port.EntityProjector
	logger      Logger
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(
	records port.ApprovalRecordRepository,
	runs port.ApprovalRunRepository,
	definitions port.WorkflowReader,
	projector port.EntityProjector,
	logger Logger,
) DashboardService {
	return &dashboardServiceImpl{
		records:     records,
		runs:        runs,
		definitions: definitions,
		projector:   projector,
		logger:      logger,
	}
}

// PendingForApprover lists records the user may act on now, newest first
func (s *dashboardServiceImpl) PendingForApprover(ctx context.Context, user *entity.User) ([]*PendingItem, error) {
	records, err := s.records.ListPendingFor(ctx, user.ID, user.Role)
	if err != nil {
		s.logger.Error("Failed to list pending approvals", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}

	l := newLookup(s)
	items := make([]*PendingItem, 0, len(records))
	for _, rec := range records {
		wf, step, err := l.step(ctx, rec)
		if err != nil {
			return nil, err
		}
		timeline, err := l.timeline(ctx, rec.RunID, wf)
		if err != nil {
			return nil, err
		}
		items = append(items, &PendingItem{
			Record:       rec,
			WorkflowName: wf.Name,
			WorkflowType: wf.Type,
			Step:         step,
			Entity:       l.summary(ctx, rec.Ref()),
			AsDelegate:   step.ApproverRole != user.Role && rec.IsDelegatedTo(user.ID),
			Timeline:     timeline,
		})
	}
	return items, nil
}

// CompletedByApprover lists resolved records the user decided or was delegated, latest first
func (s *dashboardServiceImpl) CompletedByApprover(ctx context.Context, user *entity.User) ([]*CompletedItem, error) {
	records, err := s.records.ListCompletedBy(ctx, user.ID)
	if err != nil {
		s.logger.Error("Failed to list completed approvals", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("list completed approvals: %w", err)
	}

	l := newLookup(s)
	items := make([]*CompletedItem, 0, len(records))
	for _, rec := range records {
		wf, step, err := l.step(ctx, rec)
		if err != nil {
			return nil, err
		}
		items = append(items, &CompletedItem{
			Record:       rec,
			WorkflowName: wf.Name,
			Step:         step,
			Entity:       l.summary(ctx, rec.Ref()),
		})
	}
	return items, nil
}

// lookup memoizes runs, workflows and entities for the duration of one query
type lookup struct {
	svc       *dashboardServiceImpl
	runs      map[int64]*entity.ApprovalRun
	workflows map[int64]*entity.WorkflowDefinition
	entities  map[entity.EntityRef]*entity.EntitySummary
}

func newLookup(s *dashboardServiceImpl) *lookup {
	return &lookup{
		svc:       s,
		runs:      make(map[int64]*entity.ApprovalRun),
		workflows: make(map[int64]*entity.WorkflowDefinition),
		entities:  make(map[entity.EntityRef]*entity.EntitySummary),
	}
}

func (l *lookup) step(ctx context.Context, rec *entity.ApprovalRecord) (*entity.WorkflowDefinition, *entity.StepDefinition, error) {
	run, ok := l.runs[rec.RunID]
	if !ok {
		var err error
		if run, err = l.svc.runs.GetByID(ctx, rec.RunID); err != nil {
			return nil, nil, fmt.Errorf("load run %d: %w", rec.RunID, err)
		}
		l.runs[rec.RunID] = run
	}

	wf, ok := l.workflows[run.WorkflowID]
	if !ok {
		var err error
		if wf, err = l.svc.definitions.GetWorkflow(ctx, run.WorkflowID); err != nil {
			return nil, nil, fmt.Errorf("load workflow %d: %w", run.WorkflowID, err)
		}
		l.workflows[run.WorkflowID] = wf
	}

	step, ok := wf.StepByID(rec.StepID)
	if !ok {
		return nil, nil, fmt.Errorf("record %d references unknown step %d of workflow %d", rec.ID, rec.StepID, wf.ID)
	}
	return wf, step, nil
}

// summary returns nil when the entity cannot be loaded; the item is still listed
func (l *lookup) summary(ctx context.Context, ref entity.EntityRef) *entity.EntitySummary {
	if s, ok := l.entities[ref]; ok {
		return s
	}
	s, err := l.svc.projector.Summary(ctx, ref)
	if err != nil {
		l.svc.logger.Error("Failed to load entity summary", "entity", ref.String(), "error", err)
		s = nil
	}
	l.entities[ref] = s
	return s
}

func (l *lookup) timeline(ctx context.Context, runID int64, wf *entity.WorkflowDefinition) ([]TimelineEntry, error) {
	siblings, err := l.svc.records.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list records of run %d: %w", runID, err)
	}
	byStep := make(map[int64]*entity.ApprovalRecord, len(siblings))
	for _, r := range siblings {
		byStep[r.StepID] = r
	}

	entries := make([]TimelineEntry, 0, len(wf.Steps))
	for _, st := range wf.Steps {
		e := TimelineEntry{
			StepNumber:   st.StepNumber,
			StepName:     st.StepName,
			ApproverRole: st.ApproverRole,
			IsMandatory:  st.IsMandatory,
			Status:       StepNotStarted,
		}
		if r, ok := byStep[st.ID]; ok {
			e.Status = string(r.Status)
			e.ApproverID = r.ApproverID
			e.ActionDate = r.ActionDate
			e.Comments = r.Comments
		}
		entries = append(entries, e)
	}
	return entries, nil
}
