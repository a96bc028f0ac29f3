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

// EntityTables maps governed entity types to their tables
var EntityTables = map[entity.EntityType]string{
	entity.EntityTypeEOI:              "eois",
	entity.EntityTypeRequisition:      "requisitions",
	entity.EntityTypeVendorSubmission: "vendor_submissions",
}

// GovernedEntityRepository implements port.EntityStore for one entity table.
// All governed tables share the columns the approval engine touches.
type GovernedEntityRepository struct {
	db         *sql.DB
	logger     *zap.Logger
	entityType entity.EntityType
	table      string
}

// NewGovernedEntityRepository creates a store for entityType
func NewGovernedEntityRepository(db *sql.DB, logger *zap.Logger, entityType entity.EntityType) (*GovernedEntityRepository, error) {
	table, ok := EntityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("no table for entity type %q", entityType)
	}
	return &GovernedEntityRepository{
		db:         db,
		logger:     logger,
		entityType: entityType,
		table:      table,
	}, nil
}

// Type returns the entity type tag served by this store
func (r *GovernedEntityRepository) Type() entity.EntityType {
	return r.entityType
}

// Create inserts a governed entity; used by seeding and tests
func (r *GovernedEntityRepository) Create(ctx context.Context, s *entity.EntitySummary) error {
	if s.Status == "" {
		s.Status = entity.EntityStatusPending
	}
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (title, budget, deadline, status, current_approval_step, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`, r.table),
		s.Title, s.Budget, nullTime(s.Deadline), s.Status, nullString(s.CurrentApprovalStep), time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to create governed entity", zap.String("table", r.table), zap.Error(err))
		return fmt.Errorf("failed to create %s: %w", r.entityType, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.Ref = entity.EntityRef{Type: r.entityType, ID: id}
	return nil
}

// Count returns the number of stored entities of this type
func (r *GovernedEntityRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.entityType, err)
	}
	return n, nil
}

// Load reads the entity into a mutable handle
func (r *GovernedEntityRepository) Load(ctx context.Context, id int64) (port.EntityHandle, error) {
	var s entity.EntitySummary
	var deadline sql.NullTime
	var step sql.NullString

	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, title, budget, deadline, status, current_approval_step FROM %s WHERE id = ?`, r.table),
		id,
	).Scan(&s.Ref.ID, &s.Title, &s.Budget, &deadline, &s.Status, &step)
	if err != nil {
		return nil, notFound(err, string(r.entityType), id)
	}

	s.Ref.Type = r.entityType
	s.Deadline = timePtr(deadline)
	s.CurrentApprovalStep = stringPtr(step)
	return &entityHandle{repo: r, summary: s}, nil
}

// entityHandle buffers approval field changes until Save
type entityHandle struct {
	repo    *GovernedEntityRepository
	summary entity.EntitySummary
}

func (h *entityHandle) Ref() entity.EntityRef {
	return h.summary.Ref
}

func (h *entityHandle) Summary() *entity.EntitySummary {
	s := h.summary
	return &s
}

func (h *entityHandle) SetStatus(status entity.EntityStatus) {
	h.summary.Status = status
}

func (h *entityHandle) SetCurrentStep(step *string) {
	if step == nil {
		h.summary.CurrentApprovalStep = nil
		return
	}
	label := *step
	h.summary.CurrentApprovalStep = &label
}

func (h *entityHandle) Save(ctx context.Context) error {
	r := h.repo
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, current_approval_step = ?, updated_at = ? WHERE id = ?`, r.table),
		h.summary.Status, nullString(h.summary.CurrentApprovalStep), time.Now().UTC(), h.summary.Ref.ID)
	if err != nil {
		r.logger.Error("Failed to save governed entity",
			zap.String("entity", h.summary.Ref.String()),
			zap.Error(err))
		return fmt.Errorf("failed to save %s: %w", h.summary.Ref, err)
	}
	return expectUpdated(result, string(h.summary.Ref.Type), h.summary.Ref.ID)
}

var _ port.EntityStore = (*GovernedEntityRepository)(nil)
