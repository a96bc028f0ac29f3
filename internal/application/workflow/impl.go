package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/event"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/pkg/tracing"
)

type engineImpl struct {
	definitions port.WorkflowReader
	runs        port.ApprovalRunRepository
	records     port.ApprovalRecordRepository
	directory   port.UserDirectory
	projector   port.EntityProjector
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	logger      Logger
	now         func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher publishes committed approval events through d
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides time.Now, mostly for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitions port.WorkflowReader,
	runs port.ApprovalRunRepository,
	records port.ApprovalRecordRepository,
	directory port.UserDirectory,
	projector port.EntityProjector,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		definitions: definitions,
		runs:        runs,
		records:     records,
		directory:   directory,
		projector:   projector,
		txManager:   txManager,
		logger:      nopLogger{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// recordContext is everything an action needs to know about one record
type recordContext struct {
	record   *entity.ApprovalRecord
	run      *entity.ApprovalRun
	workflow *entity.WorkflowDefinition
	step     *entity.StepDefinition
}

func (e *engineImpl) loadRecord(ctx context.Context, recordID int64) (*recordContext, error) {
	rec, err := e.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	run, err := e.runs.GetByID(ctx, rec.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run of record %d: %w", recordID, err)
	}
	wf, err := e.definitions.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow of record %d: %w", recordID, err)
	}
	step, ok := wf.StepByID(rec.StepID)
	if !ok {
		return nil, fmt.Errorf("step %d of workflow %d: %w", rec.StepID, wf.ID, domainwf.ErrNotFound)
	}
	return &recordContext{record: rec, run: run, workflow: wf, step: step}, nil
}

// authorized: the actor holds the step's role, or is the record's delegate
func authorized(actor *entity.User, rc *recordContext) bool {
	return actor.Role == rc.step.ApproverRole || rc.record.IsDelegatedTo(actor.ID)
}

func (e *engineImpl) Approve(ctx context.Context, recordID int64, actor *entity.User, comments *string) (*ActionResult, error) {
	return e.decide(ctx, "approval.approve", recordID, actor, domainwf.TriggerApprove, comments)
}

func (e *engineImpl) Reject(ctx context.Context, recordID int64, actor *entity.User, comments *string) (*ActionResult, error) {
	if comments == nil || strings.TrimSpace(*comments) == "" {
		return nil, fmt.Errorf("%w: comments are required to reject", domainwf.ErrInvalidInput)
	}
	return e.decide(ctx, "approval.reject", recordID, actor, domainwf.TriggerReject, comments)
}

func (e *engineImpl) decide(ctx context.Context, op string, recordID int64, actor *entity.User, trigger domainwf.Trigger, comments *string) (result *ActionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, op)
	span.SetInt("record_id", recordID)
	defer func() { span.End(err) }()

	if actor == nil {
		return nil, domainwf.ErrUnauthorized
	}
	span.SetInt("actor_id", actor.ID)
	comments = normalizeComments(comments)
	if err := validateComments(comments); err != nil {
		return nil, err
	}

	pub := newPublication()
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rc, err := e.loadRecord(txCtx, recordID)
		if err != nil {
			return err
		}
		if !authorized(actor, rc) {
			return fmt.Errorf("user %d on record %d: %w", actor.ID, recordID, domainwf.ErrUnauthorized)
		}
		if rc.run.IsResolved() {
			return fmt.Errorf("approval run %d is already %s: %w", rc.run.ID, rc.run.Status, domainwf.ErrInvalidState)
		}

		next, err := domainwf.Transition(txCtx, rc.record.Status, trigger)
		if err != nil {
			return fmt.Errorf("record %d: %w", recordID, err)
		}

		now := e.now().UTC()
		decision := port.RecordDecision{
			Status:     next,
			ApproverID: actor.ID,
			Comments:   comments,
			ActionDate: now,
		}
		if err := e.records.Resolve(txCtx, recordID, decision); err != nil {
			return err
		}

		rec := rc.record
		rec.Status = decision.Status
		rec.ApproverID = &actor.ID
		rec.Comments = comments
		rec.ActionDate = &now
		rec.UpdatedAt = now

		evtType := event.TypeApproved
		if trigger == domainwf.TriggerReject {
			evtType = event.TypeRejected
		}
		pub.add(evtType, rc.run.ID, rec.ID, rec.Ref(), map[string]interface{}{
			event.KeyStepID:       rc.step.ID,
			event.KeyStepName:     rc.step.StepName,
			event.KeyApproverRole: rc.step.ApproverRole,
			event.KeyActorID:      actor.ID,
		})

		result = &ActionResult{Record: rec, RunStatus: rc.run.Status}
		return e.advance(txCtx, rc, trigger, now, result, pub)
	})
	if err != nil {
		e.logger.Error("Approval action failed", "op", op, "record_id", recordID, "actor_id", actor.ID, "error", err)
		return nil, err
	}

	e.logger.Info("Approval action applied",
		"op", op,
		"record_id", recordID,
		"actor_id", actor.ID,
		"run_status", result.RunStatus,
	)
	e.publish(ctx, pub)
	return result, nil
}

// advance applies the workflow-type specific consequences of a decision
func (e *engineImpl) advance(ctx context.Context, rc *recordContext, trigger domainwf.Trigger, now time.Time, result *ActionResult, pub *publication) error {
	switch rc.workflow.Type {
	case entity.WorkflowTypeSequential:
		if trigger == domainwf.TriggerReject {
			return e.resolveRun(ctx, rc.run, entity.RunStatusRejected, now, result, pub)
		}

		next, ok, err := e.definitions.NextStep(ctx, rc.workflow.ID, rc.step.StepNumber)
		if err != nil {
			return err
		}
		if !ok {
			return e.resolveRun(ctx, rc.run, entity.RunStatusApproved, now, result, pub)
		}

		rec, err := e.activate(ctx, rc.run, next, now, pub)
		if err != nil {
			return err
		}
		label := next.StepName
		if err := e.projector.Project(ctx, rc.run.Ref(), entity.EntityStatusPending, &label); err != nil {
			return err
		}
		pending := entity.EntityStatusPending
		result.NextRecord = rec
		result.EntityStatus = &pending
		result.CurrentStep = &label
		return nil

	case entity.WorkflowTypeParallel:
		if trigger == domainwf.TriggerReject && rc.step.IsMandatory {
			return e.resolveRun(ctx, rc.run, entity.RunStatusRejected, now, result, pub)
		}

		outstanding, err := e.records.CountOutstandingMandatory(ctx, rc.run.ID, rc.workflow.ID)
		if err != nil {
			return err
		}
		if outstanding == 0 {
			return e.resolveRun(ctx, rc.run, entity.RunStatusApproved, now, result, pub)
		}
		return nil

	default:
		return fmt.Errorf("workflow %d has unknown type %q: %w", rc.workflow.ID, rc.workflow.Type, domainwf.ErrInvalidState)
	}
}

func (e *engineImpl) resolveRun(ctx context.Context, run *entity.ApprovalRun, status entity.RunStatus, now time.Time, result *ActionResult, pub *publication) error {
	if err := e.runs.Resolve(ctx, run.ID, status, now); err != nil {
		return err
	}
	run.Status = status
	run.ResolvedAt = &now

	entityStatus := entity.EntityStatusApproved
	if status == entity.RunStatusRejected {
		entityStatus = entity.EntityStatusRejected
	}
	if err := e.projector.Project(ctx, run.Ref(), entityStatus, nil); err != nil {
		return err
	}

	pub.add(event.TypeRunResolved, run.ID, 0, run.Ref(), map[string]interface{}{
		event.KeyOutcome:    string(status),
		event.KeyWorkflowID: run.WorkflowID,
	})
	result.RunStatus = status
	result.EntityStatus = &entityStatus
	result.CurrentStep = nil
	return nil
}

// activate appends a PENDING record for step
func (e *engineImpl) activate(ctx context.Context, run *entity.ApprovalRun, step *entity.StepDefinition, now time.Time, pub *publication) (*entity.ApprovalRecord, error) {
	rec := &entity.ApprovalRecord{
		RunID:      run.ID,
		EntityType: run.EntityType,
		EntityID:   run.EntityID,
		StepID:     step.ID,
		Status:     entity.RecordStatusPending,
		CreatedAt:  now,
	}
	if err := e.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	pub.add(event.TypeStepActivated, run.ID, rec.ID, run.Ref(), map[string]interface{}{
		event.KeyStepID:       step.ID,
		event.KeyStepName:     step.StepName,
		event.KeyApproverRole: step.ApproverRole,
	})
	return rec, nil
}

func (e *engineImpl) Delegate(ctx context.Context, recordID int64, requester *entity.User, delegateUserID int64) (result *ActionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.delegate")
	span.SetInt("record_id", recordID).SetInt("delegate_to", delegateUserID)
	defer func() { span.End(err) }()

	if requester == nil {
		return nil, domainwf.ErrUnauthorized
	}

	pub := newPublication()
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rc, err := e.loadRecord(txCtx, recordID)
		if err != nil {
			return err
		}
		if !rc.step.AllowDelegation {
			return fmt.Errorf("step %q: %w", rc.step.StepName, domainwf.ErrDelegationNotAllowed)
		}
		if !authorized(requester, rc) {
			return fmt.Errorf("user %d on record %d: %w", requester.ID, recordID, domainwf.ErrUnauthorized)
		}
		if rc.run.IsResolved() {
			return fmt.Errorf("approval run %d is already %s: %w", rc.run.ID, rc.run.Status, domainwf.ErrInvalidState)
		}
		if _, err := domainwf.Transition(txCtx, rc.record.Status, domainwf.TriggerDelegate); err != nil {
			return fmt.Errorf("record %d: %w", recordID, err)
		}
		if delegateUserID == requester.ID {
			return fmt.Errorf("%w: cannot delegate to yourself", domainwf.ErrInvalidInput)
		}
		delegate, err := e.directory.GetUser(txCtx, delegateUserID)
		if err != nil {
			return fmt.Errorf("delegate: %w", err)
		}

		now := e.now().UTC()
		if err := e.records.SetDelegate(txCtx, recordID, delegate.ID, now); err != nil {
			return err
		}
		rc.record.DelegateTo = &delegate.ID
		rc.record.UpdatedAt = now

		pub.add(event.TypeDelegated, rc.run.ID, recordID, rc.record.Ref(), map[string]interface{}{
			event.KeyStepID:     rc.step.ID,
			event.KeyStepName:   rc.step.StepName,
			event.KeyActorID:    requester.ID,
			event.KeyDelegateTo: delegate.ID,
		})
		result = &ActionResult{Record: rc.record, RunStatus: rc.run.Status}
		return nil
	})
	if err != nil {
		e.logger.Error("Delegation failed", "record_id", recordID, "requester_id", requester.ID, "error", err)
		return nil, err
	}

	e.logger.Info("Approval delegated", "record_id", recordID, "requester_id", requester.ID, "delegate_to", delegateUserID)
	e.publish(ctx, pub)
	return result, nil
}

func (e *engineImpl) EligibleDelegates(ctx context.Context, recordID int64, requester *entity.User) ([]*entity.User, error) {
	rc, err := e.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	users, err := e.directory.UsersWithRole(ctx, rc.step.ApproverRole)
	if err != nil {
		return nil, fmt.Errorf("list users with role %s: %w", rc.step.ApproverRole, err)
	}

	eligible := make([]*entity.User, 0, len(users))
	for _, u := range users {
		if requester != nil && u.ID == requester.ID {
			continue
		}
		eligible = append(eligible, u)
	}
	return eligible, nil
}

func (e *engineImpl) Start(ctx context.Context, ref entity.EntityRef, amount *float64) (result *StartResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.start")
	span.SetString("entity", ref.String())
	defer func() { span.End(err) }()

	if amount != nil && *amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", domainwf.ErrInvalidInput)
	}

	pub := newPublication()
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		summary, err := e.projector.Summary(txCtx, ref)
		if err != nil {
			return err
		}

		if active, err := e.runs.GetActive(txCtx, ref); err == nil {
			return fmt.Errorf("%s already in approval run %d: %w", ref, active.ID, domainwf.ErrInvalidState)
		} else if !errors.Is(err, domainwf.ErrNotFound) {
			return err
		}

		value := summary.Budget
		if amount != nil {
			value = *amount
		}
		wf, err := e.definitions.FindApplicable(txCtx, value)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		run := &entity.ApprovalRun{
			EntityType: ref.Type,
			EntityID:   ref.ID,
			WorkflowID: wf.ID,
			Status:     entity.RunStatusInProgress,
			StartedAt:  now,
		}
		if err := e.runs.Create(txCtx, run); err != nil {
			return err
		}
		pub.add(event.TypeRunStarted, run.ID, 0, ref, map[string]interface{}{
			event.KeyWorkflowID: wf.ID,
		})

		var steps []*entity.StepDefinition
		var label *string
		if wf.Type == entity.WorkflowTypeSequential {
			first, ok := wf.FirstStep()
			if !ok {
				return fmt.Errorf("workflow %d has no steps: %w", wf.ID, domainwf.ErrInvalidState)
			}
			steps = append(steps, first)
			name := first.StepName
			label = &name
		} else {
			for i := range wf.Steps {
				steps = append(steps, &wf.Steps[i])
			}
		}

		records := make([]*entity.ApprovalRecord, 0, len(steps))
		for _, step := range steps {
			rec, err := e.activate(txCtx, run, step, now, pub)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}

		if err := e.projector.Project(txCtx, ref, entity.EntityStatusPending, label); err != nil {
			return err
		}

		result = &StartResult{Run: run, Workflow: wf, Records: records}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to start approval run", "entity", ref.String(), "error", err)
		return nil, err
	}

	e.logger.Info("Approval run started",
		"entity", ref.String(),
		"run_id", result.Run.ID,
		"workflow_id", result.Workflow.ID,
		"records", len(result.Records),
	)
	e.publish(ctx, pub)
	return result, nil
}

func (e *engineImpl) GetRecord(ctx context.Context, recordID int64) (*entity.ApprovalRecord, error) {
	return e.records.GetByID(ctx, recordID)
}

func (e *engineImpl) History(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRecord, error) {
	return e.records.ListByEntity(ctx, ref)
}

// normalizeComments trims comments and maps blank ones to nil
func normalizeComments(comments *string) *string {
	if comments == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comments)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func validateComments(comments *string) error {
	if comments == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*comments); n > entity.MaxCommentLength {
		return fmt.Errorf("%w: comments exceed %d characters (%d)", domainwf.ErrInvalidInput, entity.MaxCommentLength, n)
	}
	return nil
}

// publication collects events inside a transaction; they are only published
// once it has committed
type publication struct {
	correlationID string
	events        []*event.Event
}

func newPublication() *publication {
	return &publication{correlationID: uuid.NewString()}
}

func (p *publication) add(t event.Type, runID, recordID int64, ref entity.EntityRef, payload map[string]interface{}) {
	p.events = append(p.events, event.NewEventWithCorrelation(t, runID, recordID, ref, payload, p.correlationID))
}

func (e *engineImpl) publish(ctx context.Context, p *publication) {
	if e.dispatcher == nil || len(p.events) == 0 {
		return
	}
	e.dispatcher.Publish(ctx, p.events...)
}
