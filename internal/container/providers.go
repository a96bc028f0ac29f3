package container

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/projection"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/procurement-approval/internal/infrastructure/notifier"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-approval/internal/infrastructure/seed"
	"github.com/garyjia/procurement-approval/internal/infrastructure/worker"
	"github.com/garyjia/procurement-approval/migrations"
	"github.com/garyjia/procurement-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflows port.WorkflowRepository
	Runs      port.ApprovalRunRepository
	Records   port.ApprovalRecordRepository
	Reminders port.ReminderRepository
	Users     port.UserDirectory
	Entities  []*repository.GovernedEntityRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Definitions  service.DefinitionService
	Dashboard    service.DashboardService
	Notification service.NotificationService
}

// ServiceDeps holds what ProvideServices needs.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Projector port.EntityProjector
	Notifier  port.Notifier
	Workflow  *WorkflowConfig
	LinkBase  string
	Logger    *zap.Logger
}

// WorkflowDeps holds what ProvideWorkflowEngine needs.
type WorkflowDeps struct {
	Repos       *RepositoryBundle
	Definitions service.DefinitionService
	Projector   port.EntityProjector
	TxManager   port.TransactionManager
	Dispatcher  dispatcher.Dispatcher
	Logger      *zap.Logger
}

// ProvideDatabase opens the SQLite database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories, one governed entity store per type.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	bundle := &RepositoryBundle{
		Workflows: repository.NewWorkflowRepository(db.DB, logger),
		Runs:      repository.NewApprovalRunRepository(db.DB, logger),
		Records:   repository.NewApprovalRecordRepository(db.DB, logger),
		Reminders: repository.NewReminderRepository(db.DB, logger),
		Users:     repository.NewUserRepository(db.DB, logger),
	}

	for _, entityType := range []entity.EntityType{
		entity.EntityTypeEOI,
		entity.EntityTypeRequisition,
		entity.EntityTypeVendorSubmission,
	} {
		store, err := repository.NewGovernedEntityRepository(db.DB, logger, entityType)
		if err != nil {
			return nil, err
		}
		bundle.Entities = append(bundle.Entities, store)
	}

	return bundle, nil
}

// ProvideProjector registers every governed entity store.
func ProvideProjector(repos *RepositoryBundle) *projection.Registry {
	registry := projection.NewRegistry()
	for _, store := range repos.Entities {
		registry.Register(store)
	}
	return registry
}

// ProvideNotifier returns the Lark messenger when enabled, otherwise a notifier
// that only logs. The Lark client is nil in the latter case.
func ProvideNotifier(cfg *Config, logger *zap.Logger) (port.Notifier, *lark.Client) {
	if !cfg.Notification.UseLark {
		logger.Info("Lark notifications disabled, logging approver messages instead")
		return notifier.NewLogNotifier(logger), nil
	}

	client := lark.NewClient(lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	}, logger)
	return lark.NewMessenger(client, logger), client
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger})), nil
}

// ProvideServices creates the application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	log := &zapLoggerAdapter{logger: deps.Logger}

	var ttl time.Duration
	if deps.Workflow != nil {
		ttl = deps.Workflow.CacheTTL
	}
	definitions := service.NewDefinitionService(deps.Repos.Workflows, deps.TxManager, ttl, log)

	return &ServiceBundle{
		Definitions: definitions,
		Dashboard: service.NewDashboardService(
			deps.Repos.Records,
			deps.Repos.Runs,
			definitions,
			deps.Projector,
			log,
		),
		Notification: service.NewNotificationService(
			deps.Repos.Records,
			deps.Repos.Runs,
			deps.Repos.Reminders,
			deps.Repos.Users,
			definitions,
			deps.Projector,
			deps.Notifier,
			deps.LinkBase,
			log,
		),
	}, nil
}

// ProvideWorkflowEngine creates the approval engine publishing to the dispatcher.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil || deps.Repos == nil || deps.Definitions == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}

	return workflow.NewEngine(
		deps.Definitions,
		deps.Repos.Runs,
		deps.Repos.Records,
		deps.Repos.Users,
		deps.Projector,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
	), nil
}

// ProvideWorkers creates the worker manager with the reminder worker when enabled.
func ProvideWorkers(cfg *WorkerConfig, reminder worker.Reminder, logger *zap.Logger) (*worker.WorkerManager, error) {
	manager := worker.NewWorkerManager(logger)
	if cfg == nil || !cfg.ReminderEnabled {
		logger.Info("Reminder worker disabled")
		return manager, nil
	}

	err := manager.Register(worker.NewReminderWorker(worker.ReminderWorkerConfig{
		PollInterval: cfg.ReminderPollInterval,
		After:        cfg.ReminderAfter,
		BatchSize:    cfg.ReminderBatchSize,
	}, reminder, logger))
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// ProvideSeedLoader creates a loader writing through the definition service.
func ProvideSeedLoader(repos *RepositoryBundle, definitions service.DefinitionService, logger *zap.Logger) *seed.Loader {
	creators := make([]seed.EntityCreator, 0, len(repos.Entities))
	for _, store := range repos.Entities {
		creators = append(creators, store)
	}
	return seed.NewLoader(repos.Users, definitions, logger, creators...)
}
