// Package container provides dependency injection and lifecycle management
// for the procurement approval service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lark API configuration
	Lark LarkConfig

	// Notification configuration
	Notification NotificationConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Workflow definition store configuration
	Workflow WorkflowConfig

	// Tracing configuration
	Tracing TracingConfig

	// SeedPath is an optional YAML seed file applied at startup
	SeedPath string

	// Version is reported by the health endpoint
	Version string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits for the SQLite write lock
	BusyTimeout time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// BaseURL overrides the Lark open platform domain
	BaseURL string
}

// NotificationConfig holds approver notification settings.
type NotificationConfig struct {
	// UseLark sends messages through Lark instead of the log
	UseLark bool

	// LinkBase prefixes record links in messages
	LinkBase string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	ReminderEnabled      bool
	ReminderPollInterval time.Duration
	ReminderAfter        time.Duration
	ReminderBatchSize    int
}

// WorkflowConfig holds workflow definition store settings.
type WorkflowConfig struct {
	// CacheTTL is how long definitions are served from memory
	CacheTTL time.Duration
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	ServiceName string

	// OutputFile receives exported spans; empty means stdout
	OutputFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			ReminderEnabled:      true,
			ReminderPollInterval: 15 * time.Minute,
			ReminderAfter:        24 * time.Hour,
			ReminderBatchSize:    50,
		},
		Workflow: WorkflowConfig{
			CacheTTL: 10 * time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "procurement-approval",
		},
		Version: "dev",
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Notification.UseLark {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Worker.ReminderEnabled && (c.Worker.ReminderPollInterval <= 0 || c.Worker.ReminderAfter <= 0) {
		return fmt.Errorf("reminder intervals must be positive")
	}

	return nil
}
