// Package testinfra wires the approval stack over a throwaway SQLite file for tests.
package testinfra

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/projection"
	"github.com/garyjia/procurement-approval/internal/application/service"
	appworkflow "github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-approval/migrations"
	"github.com/garyjia/procurement-approval/pkg/database"
)

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Stack is a fully wired approval backend
type Stack struct {
	DB          *database.DB
	Tx          *sqlite.DB
	Workflows   port.WorkflowRepository
	Runs        port.ApprovalRunRepository
	Records     port.ApprovalRecordRepository
	Reminders   port.ReminderRepository
	Users       port.UserDirectory
	Entities    map[entity.EntityType]*repository.GovernedEntityRepository
	Projector   *projection.Registry
	Definitions service.DefinitionService
	Engine      appworkflow.Engine
}

// OpenDB creates a migrated database in t.TempDir()
func OpenDB(t testing.TB) *database.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "approval.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(migrations.FS))
	return db
}

// NewStack builds every repository, the projector, the definition service and the engine
func NewStack(t testing.TB, opts ...appworkflow.EngineOption) *Stack {
	t.Helper()
	logger := zap.NewNop()
	db := OpenDB(t)

	s := &Stack{
		DB:        db,
		Tx:        sqlite.NewDB(db.DB, logger),
		Workflows: repository.NewWorkflowRepository(db.DB, logger),
		Runs:      repository.NewApprovalRunRepository(db.DB, logger),
		Records:   repository.NewApprovalRecordRepository(db.DB, logger),
		Reminders: repository.NewReminderRepository(db.DB, logger),
		Users:     repository.NewUserRepository(db.DB, logger),
		Entities:  make(map[entity.EntityType]*repository.GovernedEntityRepository),
		Projector: projection.NewRegistry(),
	}

	for entityType := range repository.EntityTables {
		store, err := repository.NewGovernedEntityRepository(db.DB, logger, entityType)
		require.NoError(t, err)
		s.Entities[entityType] = store
		s.Projector.Register(store)
	}

	s.Definitions = service.NewDefinitionService(s.Workflows, s.Tx, 0, NopLogger{})
	s.Engine = appworkflow.NewEngine(s.Definitions, s.Runs, s.Records, s.Users, s.Projector, s.Tx, opts...)
	return s
}

// AddUser creates a directory user
func (s *Stack) AddUser(t testing.TB, name, role string) *entity.User {
	t.Helper()
	u := &entity.User{Name: name, Role: role}
	require.NoError(t, s.Users.Upsert(context.Background(), u))
	return u
}

// AddEntity creates a governed entity in pending state
func (s *Stack) AddEntity(t testing.TB, entityType entity.EntityType, title string, budget float64) entity.EntityRef {
	t.Helper()
	summary := &entity.EntitySummary{Title: title, Budget: budget}
	require.NoError(t, s.Entities[entityType].Create(context.Background(), summary))
	return summary.Ref
}

// AddWorkflow registers a workflow definition
func (s *Stack) AddWorkflow(t testing.TB, wf *entity.WorkflowDefinition) *entity.WorkflowDefinition {
	t.Helper()
	require.NoError(t, s.Definitions.Register(context.Background(), wf))
	return wf
}

// Entity reloads the current projection of a governed entity
func (s *Stack) Entity(t testing.TB, ref entity.EntityRef) *entity.EntitySummary {
	t.Helper()
	summary, err := s.Projector.Summary(context.Background(), ref)
	require.NoError(t, err)
	return summary
}

// Sequential builds an active sequential workflow from (name, role) pairs
func Sequential(name string, steps ...[2]string) *entity.WorkflowDefinition {
	wf := &entity.WorkflowDefinition{Name: name, Type: entity.WorkflowTypeSequential, IsActive: true}
	for i, st := range steps {
		wf.Steps = append(wf.Steps, entity.StepDefinition{
			StepNumber:   i + 1,
			StepName:     st[0],
			ApproverRole: st[1],
			IsMandatory:  true,
		})
	}
	return wf
}

// ParallelStep describes one step of a parallel workflow
type ParallelStep struct {
	Name      string
	Role      string
	Mandatory bool
}

// Parallel builds an active parallel workflow
func Parallel(name string, steps ...ParallelStep) *entity.WorkflowDefinition {
	wf := &entity.WorkflowDefinition{Name: name, Type: entity.WorkflowTypeParallel, IsActive: true}
	for i, st := range steps {
		wf.Steps = append(wf.Steps, entity.StepDefinition{
			StepNumber:   i + 1,
			StepName:     st.Name,
			ApproverRole: st.Role,
			IsMandatory:  st.Mandatory,
		})
	}
	return wf
}
