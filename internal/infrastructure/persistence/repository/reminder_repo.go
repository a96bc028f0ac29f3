package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
)

// ReminderRepository implements port.ReminderRepository
type ReminderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *sql.DB, logger *zap.Logger) port.ReminderRepository {
	return &ReminderRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the reminder bookkeeping for a record, or ErrNotFound
func (r *ReminderRepository) Get(ctx context.Context, recordID int64) (*entity.ApprovalReminder, error) {
	var rem entity.ApprovalReminder
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT record_id, sent_at, sent_count FROM approval_reminders WHERE record_id = ?`, recordID,
	).Scan(&rem.RecordID, &rem.SentAt, &rem.SentCount)
	if err != nil {
		return nil, notFound(err, "reminder for record", recordID)
	}
	return &rem, nil
}

// LastAttempt returns the latest reminder attempt for a record, or ErrNotFound
func (r *ReminderRepository) LastAttempt(ctx context.Context, recordID int64) (*entity.ReminderAttempt, error) {
	var (
		a         entity.ReminderAttempt
		lastError sql.NullString
	)
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT record_id, attempted_at, failures, last_error FROM approval_reminder_attempts WHERE record_id = ?`, recordID,
	).Scan(&a.RecordID, &a.AttemptedAt, &a.Failures, &lastError)
	if err != nil {
		return nil, notFound(err, "reminder attempt for record", recordID)
	}
	a.LastError = stringPtr(lastError)
	return &a, nil
}

// MarkSent records that a reminder went out
func (r *ReminderRepository) MarkSent(ctx context.Context, recordID int64, at time.Time) error {
	exec := sqlite.ExecutorFor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO approval_reminders (record_id, sent_at, sent_count) VALUES (?, ?, 1)
		ON CONFLICT(record_id) DO UPDATE SET sent_at = excluded.sent_at, sent_count = sent_count + 1`,
		recordID, at.UTC())
	if err != nil {
		r.logger.Error("Failed to mark reminder sent", zap.Int64("record_id", recordID), zap.Error(err))
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return r.recordAttempt(ctx, exec, recordID, at, nil)
}

// MarkFailed records a reminder attempt that failed for at least one recipient
func (r *ReminderRepository) MarkFailed(ctx context.Context, recordID int64, at time.Time, cause error) error {
	return r.recordAttempt(ctx, sqlite.ExecutorFor(ctx, r.db), recordID, at, cause)
}

func (r *ReminderRepository) recordAttempt(ctx context.Context, exec sqlite.Executor, recordID int64, at time.Time, cause error) error {
	var (
		query     string
		lastError sql.NullString
	)
	if cause == nil {
		query = `
		INSERT INTO approval_reminder_attempts (record_id, attempted_at, failures, last_error) VALUES (?, ?, 0, ?)
		ON CONFLICT(record_id) DO UPDATE SET attempted_at = excluded.attempted_at, failures = 0, last_error = NULL`
	} else {
		lastError = sql.NullString{String: cause.Error(), Valid: true}
		query = `
		INSERT INTO approval_reminder_attempts (record_id, attempted_at, failures, last_error) VALUES (?, ?, 1, ?)
		ON CONFLICT(record_id) DO UPDATE SET attempted_at = excluded.attempted_at,
			failures = failures + 1, last_error = excluded.last_error`
	}

	if _, err := exec.ExecContext(ctx, query, recordID, at.UTC(), lastError); err != nil {
		r.logger.Error("Failed to record reminder attempt", zap.Int64("record_id", recordID), zap.Error(err))
		return fmt.Errorf("failed to record reminder attempt: %w", err)
	}
	return nil
}

var _ port.ReminderRepository = (*ReminderRepository)(nil)
