package config

import (
	"github.com/garyjia/procurement-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		},
		Notification: container.NotificationConfig{
			UseLark:  c.Notification.Channel == ChannelLark,
			LinkBase: c.Notification.LinkBase,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			ReminderEnabled:      c.Reminder.Enabled,
			ReminderPollInterval: c.Reminder.PollInterval,
			ReminderAfter:        c.Reminder.After,
			ReminderBatchSize:    c.Reminder.BatchSize,
		},
		Workflow: container.WorkflowConfig{
			CacheTTL: c.Workflow.CacheTTL,
		},
		Tracing: container.TracingConfig{
			Enabled:     c.Tracing.Enabled,
			ServiceName: c.Tracing.ServiceName,
			OutputFile:  c.Tracing.OutputFile,
		},
		SeedPath: c.Seed.Path,
	}
}
