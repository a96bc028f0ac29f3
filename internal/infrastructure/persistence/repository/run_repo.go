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

// ApprovalRunRepository implements port.ApprovalRunRepository
type ApprovalRunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRunRepository creates a new approval run repository
func NewApprovalRunRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRunRepository {
	return &ApprovalRunRepository{
		db:     db,
		logger: logger,
	}
}

const runColumns = `id, entity_type, entity_id, workflow_id, status, started_at, resolved_at`

// Create inserts an IN_PROGRESS run. A second active run for the same entity
// violates idx_runs_active_entity and is reported as ErrInvalidState.
func (r *ApprovalRunRepository) Create(ctx context.Context, run *entity.ApprovalRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = entity.RunStatusInProgress
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO approval_runs (entity_type, entity_id, workflow_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.EntityType, run.EntityID, run.WorkflowID, run.Status, run.StartedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s already has an approval in progress: %w", run.Ref(), workflow.ErrInvalidState)
		}
		r.logger.Error("Failed to create approval run",
			zap.String("entity", run.Ref().String()),
			zap.Error(err))
		return fmt.Errorf("failed to create approval run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// GetByID retrieves a run by ID
func (r *ApprovalRunRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRun, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM approval_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "approval run", id)
	}
	return run, nil
}

// GetActive retrieves the IN_PROGRESS run of an entity
func (r *ApprovalRunRepository) GetActive(ctx context.Context, ref entity.EntityRef) (*entity.ApprovalRun, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM approval_runs
		 WHERE entity_type = ? AND entity_id = ? AND status = 'IN_PROGRESS'`,
		ref.Type, ref.ID)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "active approval run for", ref)
	}
	return run, nil
}

// ListByEntity returns all runs of the entity, oldest first
func (r *ApprovalRunRepository) ListByEntity(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRun, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx,
		`SELECT `+runColumns+` FROM approval_runs WHERE entity_type = ? AND entity_id = ? ORDER BY id`,
		ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval runs: %w", err)
	}
	defer rows.Close()

	var runs []*entity.ApprovalRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Resolve closes an IN_PROGRESS run
func (r *ApprovalRunRepository) Resolve(ctx context.Context, id int64, status entity.RunStatus, at time.Time) error {
	if status == entity.RunStatusInProgress {
		return fmt.Errorf("%w: cannot resolve run to %s", workflow.ErrInvalidInput, status)
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_runs SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'IN_PROGRESS'`,
		status, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to resolve approval run", zap.Int64("run_id", id), zap.Error(err))
		return fmt.Errorf("failed to resolve approval run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval run %d is not in progress: %w", id, workflow.ErrInvalidState)
	}
	return nil
}

func scanRun(row scanner) (*entity.ApprovalRun, error) {
	var run entity.ApprovalRun
	var resolvedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.EntityType, &run.EntityID, &run.WorkflowID,
		&run.Status, &run.StartedAt, &resolvedAt); err != nil {
		return nil, err
	}
	run.ResolvedAt = timePtr(resolvedAt)
	return &run, nil
}

var _ port.ApprovalRunRepository = (*ApprovalRunRepository)(nil)
