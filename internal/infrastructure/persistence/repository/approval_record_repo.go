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

// ApprovalRecordRepository implements port.ApprovalRecordRepository
type ApprovalRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRecordRepository creates a new approval ledger repository
func NewApprovalRecordRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRecordRepository {
	return &ApprovalRecordRepository{
		db:     db,
		logger: logger,
	}
}

const recordColumns = `r.id, r.run_id, r.entity_type, r.entity_id, r.step_id, r.status,
	r.approver_id, r.delegate_to, r.comments, r.action_date, r.created_at, r.updated_at`

// Create appends a record to the ledger
func (r *ApprovalRecordRepository) Create(ctx context.Context, rec *entity.ApprovalRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = entity.RecordStatusPending
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO approval_records (
			run_id, entity_type, entity_id, step_id, status,
			approver_id, delegate_to, comments, action_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.EntityType, rec.EntityID, rec.StepID, rec.Status,
		nullInt64(rec.ApproverID), nullInt64(rec.DelegateTo), nullString(rec.Comments),
		nullTime(rec.ActionDate), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("step %d already has a record in run %d: %w", rec.StepID, rec.RunID, workflow.ErrInvalidState)
		}
		r.logger.Error("Failed to create approval record",
			zap.Int64("run_id", rec.RunID),
			zap.Int64("step_id", rec.StepID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID retrieves a record by ID
func (r *ApprovalRecordRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRecord, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM approval_records r WHERE r.id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, notFound(err, "approval record", id)
	}
	return rec, nil
}

// Resolve writes the decision only if the record is still PENDING. The
// conditional update is what makes the second of two racing approvals fail.
func (r *ApprovalRecordRepository) Resolve(ctx context.Context, id int64, d port.RecordDecision) error {
	if !d.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot resolve record to %s", workflow.ErrInvalidInput, d.Status)
	}

	at := d.ActionDate.UTC()
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_records
		SET status = ?, approver_id = ?, comments = ?, action_date = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		d.Status, d.ApproverID, nullString(d.Comments), at, at, id)
	if err != nil {
		r.logger.Error("Failed to resolve approval record", zap.Int64("record_id", id), zap.Error(err))
		return fmt.Errorf("failed to resolve approval record: %w", err)
	}
	return r.expectOneRow(result, id)
}

// SetDelegate names the single additional identity allowed to act on a PENDING record
func (r *ApprovalRecordRepository) SetDelegate(ctx context.Context, id int64, delegateTo int64, at time.Time) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_records
		SET delegate_to = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		delegateTo, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to delegate approval record", zap.Int64("record_id", id), zap.Error(err))
		return fmt.Errorf("failed to delegate approval record: %w", err)
	}
	return r.expectOneRow(result, id)
}

func (r *ApprovalRecordRepository) expectOneRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval record %d is no longer pending: %w", id, workflow.ErrInvalidState)
	}
	return nil
}

// ListByRun returns the records of a run
func (r *ApprovalRecordRepository) ListByRun(ctx context.Context, runID int64) ([]*entity.ApprovalRecord, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM approval_records r
		WHERE r.run_id = ? ORDER BY r.id`, runID)
}

// ListByEntity returns the full ledger history of an entity
func (r *ApprovalRecordRepository) ListByEntity(ctx context.Context, ref entity.EntityRef) ([]*entity.ApprovalRecord, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM approval_records r
		WHERE r.entity_type = ? AND r.entity_id = ? ORDER BY r.id`, ref.Type, ref.ID)
}

// CountOutstandingMandatory counts mandatory steps still lacking an approval in the run
func (r *ApprovalRecordRepository) CountOutstandingMandatory(ctx context.Context, runID, workflowID int64) (int, error) {
	var count int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM workflow_steps s
		WHERE s.workflow_id = ?
		  AND s.is_mandatory = 1
		  AND NOT EXISTS (
			SELECT 1 FROM approval_records r
			WHERE r.run_id = ? AND r.step_id = s.id AND r.status = 'APPROVED'
		  )`, workflowID, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outstanding mandatory steps: %w", err)
	}
	return count, nil
}

// ListPendingFor returns the approver's actionable queue
func (r *ApprovalRecordRepository) ListPendingFor(ctx context.Context, userID int64, role string) ([]*entity.ApprovalRecord, error) {
	return r.query(ctx, `SELECT `+recordColumns+`
		FROM approval_records r
		JOIN workflow_steps s ON s.id = r.step_id
		JOIN approval_runs ru ON ru.id = r.run_id
		WHERE r.status = 'PENDING'
		  AND ru.status = 'IN_PROGRESS'
		  AND (s.approver_role = ? OR r.delegate_to = ?)
		ORDER BY r.created_at DESC, r.id DESC`, role, userID)
}

// ListCompletedBy returns records the user resolved or was delegated
func (r *ApprovalRecordRepository) ListCompletedBy(ctx context.Context, userID int64) ([]*entity.ApprovalRecord, error) {
	return r.query(ctx, `SELECT `+recordColumns+`
		FROM approval_records r
		WHERE r.status IN ('APPROVED', 'REJECTED')
		  AND (r.approver_id = ? OR r.delegate_to = ?)
		ORDER BY r.action_date DESC, r.id DESC`, userID, userID)
}

// ListStalePending returns actionable records waiting since before the cutoff
// and not reminded since then. Records never attempted come first, then the
// least recently attempted.
func (r *ApprovalRecordRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*entity.ApprovalRecord, error) {
	cutoff := before.UTC()
	return r.query(ctx, `SELECT `+recordColumns+`
		FROM approval_records r
		JOIN approval_runs ru ON ru.id = r.run_id
		LEFT JOIN approval_reminders m ON m.record_id = r.id
		LEFT JOIN approval_reminder_attempts a ON a.record_id = r.id
		WHERE r.status = 'PENDING'
		  AND ru.status = 'IN_PROGRESS'
		  AND r.created_at < ?
		  AND (m.sent_at IS NULL OR m.sent_at < ?)
		ORDER BY a.attempted_at IS NOT NULL, a.attempted_at, r.created_at, r.id
		LIMIT ?`, cutoff, cutoff, limit)
}

func (r *ApprovalRecordRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalRecord, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approval records", zap.Error(err))
		return nil, fmt.Errorf("failed to query approval records: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row scanner) (*entity.ApprovalRecord, error) {
	var rec entity.ApprovalRecord
	var approverID, delegateTo sql.NullInt64
	var comments sql.NullString
	var actionDate sql.NullTime

	if err := row.Scan(
		&rec.ID, &rec.RunID, &rec.EntityType, &rec.EntityID, &rec.StepID, &rec.Status,
		&approverID, &delegateTo, &comments, &actionDate, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.ApproverID = int64Ptr(approverID)
	rec.DelegateTo = int64Ptr(delegateTo)
	rec.Comments = stringPtr(comments)
	rec.ActionDate = timePtr(actionDate)
	return &rec, nil
}

var _ port.ApprovalRecordRepository = (*ApprovalRecordRepository)(nil)
