package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow definition repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

const workflowColumns = `id, name, type, is_active, min_amount, max_amount, created_at, updated_at`

// Create inserts the workflow and its steps. Callers wrap it in a transaction
// when both must land together.
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO workflows (name, type, is_active, min_amount, max_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.Name, wf.Type, wf.IsActive, nullFloat64(wf.MinAmount), nullFloat64(wf.MaxAmount), now, now,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("name", wf.Name), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	wf.ID = id
	wf.CreatedAt = now
	wf.UpdatedAt = now

	return r.insertSteps(ctx, id, wf.Steps)
}

func (r *WorkflowRepository) insertSteps(ctx context.Context, workflowID int64, steps []entity.StepDefinition) error {
	exec := sqlite.ExecutorFor(ctx, r.db)
	for i := range steps {
		s := &steps[i]
		result, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_steps (workflow_id, step_number, step_name, approver_role, is_mandatory, allow_delegation)
			VALUES (?, ?, ?, ?, ?, ?)`,
			workflowID, s.StepNumber, s.StepName, s.ApproverRole, s.IsMandatory, s.AllowDelegation,
		)
		if err != nil {
			r.logger.Error("Failed to create workflow step",
				zap.Int64("workflow_id", workflowID),
				zap.Int("step_number", s.StepNumber),
				zap.Error(err))
			return fmt.Errorf("failed to create step %d: %w", s.StepNumber, err)
		}
		if s.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		s.WorkflowID = workflowID
	}
	return nil
}

// ReplaceSteps deletes and re-inserts the steps of an unreferenced workflow
func (r *WorkflowRepository) ReplaceSteps(ctx context.Context, workflowID int64, steps []entity.StepDefinition) error {
	wf, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	wf.Steps = steps
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
	}

	referenced, err := r.IsReferenced(ctx, workflowID)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("workflow %d: %w", workflowID, workflow.ErrWorkflowInUse)
	}

	exec := sqlite.ExecutorFor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `UPDATE workflows SET updated_at = ? WHERE id = ?`, time.Now().UTC(), workflowID); err != nil {
		return fmt.Errorf("failed to touch workflow: %w", err)
	}
	return r.insertSteps(ctx, workflowID, wf.Steps)
}

// SetActive toggles whether new runs may select the workflow
func (r *WorkflowRepository) SetActive(ctx context.Context, workflowID int64, active bool) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE workflows SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), workflowID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return expectUpdated(result, "workflow", workflowID)
}

// GetWorkflow retrieves a workflow with its steps
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, workflowID int64) (*entity.WorkflowDefinition, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, workflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, notFound(err, "workflow", workflowID)
	}
	if wf.Steps, err = r.loadSteps(ctx, wf.ID); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetByName retrieves a workflow by its unique name
func (r *WorkflowRepository) GetByName(ctx context.Context, name string) (*entity.WorkflowDefinition, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE name = ?`, name)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, notFound(err, "workflow", name)
	}
	if wf.Steps, err = r.loadSteps(ctx, wf.ID); err != nil {
		return nil, err
	}
	return wf, nil
}

// List returns every workflow
func (r *WorkflowRepository) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return r.list(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id`)
}

// ListActive returns workflows available to new runs
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return r.list(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE is_active = 1 ORDER BY id`)
}

func (r *WorkflowRepository) list(ctx context.Context, query string) ([]*entity.WorkflowDefinition, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	var workflows []*entity.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Steps are loaded after the cursor is closed; a transaction holds a single connection.
	for _, wf := range workflows {
		if wf.Steps, err = r.loadSteps(ctx, wf.ID); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// IsReferenced reports whether any approval run was started on the workflow
func (r *WorkflowRepository) IsReferenced(ctx context.Context, workflowID int64) (bool, error) {
	var exists bool
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM approval_runs WHERE workflow_id = ?)`, workflowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow references: %w", err)
	}
	return exists, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflowID int64) ([]entity.StepDefinition, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, `
		SELECT id, workflow_id, step_number, step_name, approver_role, is_mandatory, allow_delegation
		FROM workflow_steps
		WHERE workflow_id = ?
		ORDER BY step_number`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	var steps []entity.StepDefinition
	for rows.Next() {
		var s entity.StepDefinition
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.StepNumber, &s.StepName,
			&s.ApproverRole, &s.IsMandatory, &s.AllowDelegation); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func scanWorkflow(row scanner) (*entity.WorkflowDefinition, error) {
	var wf entity.WorkflowDefinition
	var minAmount, maxAmount sql.NullFloat64
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Type, &wf.IsActive,
		&minAmount, &maxAmount, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.MinAmount = float64Ptr(minAmount)
	wf.MaxAmount = float64Ptr(maxAmount)
	return &wf, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
