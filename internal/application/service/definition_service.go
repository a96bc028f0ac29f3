package service

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
)

const (
	workflowKeyFormat = "workflow:%d"
	activeListKey     = "workflows:active"
)

// DefinitionService is the read-mostly workflow definition store. Reads are
// served from an in-process cache; writes go to the repository and evict.
type DefinitionService interface {
	port.WorkflowReader

	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
	Register(ctx context.Context, wf *entity.WorkflowDefinition) error
	ReplaceSteps(ctx context.Context, workflowID int64, steps []entity.StepDefinition) error
	SetActive(ctx context.Context, workflowID int64, active bool) error
	Invalidate(workflowID int64)
}

type definitionServiceImpl struct {
	repo      port.WorkflowRepository
	txManager port.TransactionManager
	cache     *cache.Cache
	logger    Logger
}

// NewDefinitionService creates a DefinitionService caching definitions for ttl
func NewDefinitionService(repo port.WorkflowRepository, txManager port.TransactionManager, ttl time.Duration, logger Logger) DefinitionService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &definitionServiceImpl{
		repo:      repo,
		txManager: txManager,
		cache:     cache.New(ttl, 2*ttl),
		logger:    logger,
	}
}

// GetWorkflow returns a private copy of the cached definition
func (s *definitionServiceImpl) GetWorkflow(ctx context.Context, workflowID int64) (*entity.WorkflowDefinition, error) {
	key := fmt.Sprintf(workflowKeyFormat, workflowID)
	if v, ok := s.cache.Get(key); ok {
		return v.(*entity.WorkflowDefinition).Clone(), nil
	}

	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, wf.Clone(), cache.DefaultExpiration)
	return wf, nil
}

func (s *definitionServiceImpl) NextStep(ctx context.Context, workflowID int64, currentStepNumber int) (*entity.StepDefinition, bool, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}
	step, ok := wf.NextStep(currentStepNumber)
	return step, ok, nil
}

func (s *definitionServiceImpl) FindApplicable(ctx context.Context, amount float64) (*entity.WorkflowDefinition, error) {
	active, err := s.listActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, wf := range active {
		if wf.Covers(amount) {
			return wf.Clone(), nil
		}
	}
	return nil, fmt.Errorf("amount %.2f: %w", amount, workflow.ErrNoApplicableWorkflow)
}

func (s *definitionServiceImpl) listActive(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	if v, ok := s.cache.Get(activeListKey); ok {
		return v.([]*entity.WorkflowDefinition), nil
	}

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	s.cache.Set(activeListKey, active, cache.DefaultExpiration)
	return active, nil
}

func (s *definitionServiceImpl) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return s.repo.List(ctx)
}

// Register stores a new workflow with its steps atomically
func (s *definitionServiceImpl) Register(ctx context.Context, wf *entity.WorkflowDefinition) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.repo.Create(txCtx, wf)
	})
	if err != nil {
		s.logger.Error("Failed to register workflow", "name", wf.Name, "error", err)
		return err
	}

	s.cache.Delete(activeListKey)
	s.logger.Info("Workflow registered", "workflow_id", wf.ID, "name", wf.Name, "steps", len(wf.Steps))
	return nil
}

// ReplaceSteps fails with ErrWorkflowInUse once any run references the workflow
func (s *definitionServiceImpl) ReplaceSteps(ctx context.Context, workflowID int64, steps []entity.StepDefinition) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.repo.ReplaceSteps(txCtx, workflowID, steps)
	})
	if err != nil {
		return err
	}
	s.Invalidate(workflowID)
	return nil
}

func (s *definitionServiceImpl) SetActive(ctx context.Context, workflowID int64, active bool) error {
	if err := s.repo.SetActive(ctx, workflowID, active); err != nil {
		return err
	}
	s.Invalidate(workflowID)
	return nil
}

func (s *definitionServiceImpl) Invalidate(workflowID int64) {
	s.cache.Delete(fmt.Sprintf(workflowKeyFormat, workflowID))
	s.cache.Delete(activeListKey)
}
