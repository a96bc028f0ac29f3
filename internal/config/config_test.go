package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/approval.db", cfg.Database.Path)
	assert.Equal(t, ChannelLog, cfg.Notification.Channel)
	assert.True(t, cfg.Reminder.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Reminder.After)
	assert.Equal(t, 10*time.Minute, cfg.Workflow.CacheTTL)
}

func TestLoadFileAndEnv(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
server:
  port: 9090
notification:
  channel: lark
  link_base: https://procure.example.com
reminder:
  poll_interval: 5m
  after: 2h
seed:
  path: configs/seed.yaml
`)
	t.Setenv("LARK_APP_ID", "cli_test")
	t.Setenv("LARK_APP_SECRET", "secret")
	t.Setenv("APPROVAL_DATABASE_PATH", "/tmp/x.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cli_test", cfg.Lark.AppID)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Reminder.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.Reminder.After)

	cc := cfg.ToContainerConfig()
	assert.True(t, cc.Notification.UseLark)
	assert.Equal(t, "https://procure.example.com", cc.Notification.LinkBase)
	assert.Equal(t, "configs/seed.yaml", cc.SeedPath)
	assert.NoError(t, cc.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APPROVAL_SERVER_PORT=7070\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APPROVAL_SERVER_PORT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Port: 8080},
			Database:     DatabaseConfig{Path: "a.db"},
			Notification: NotificationConfig{Channel: ChannelLog},
			Reminder:     ReminderConfig{Enabled: true, PollInterval: time.Minute, After: time.Hour, BatchSize: 10},
			Logger:       LoggerConfig{Format: "json"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"database path", func(c *Config) { c.Database.Path = "" }},
		{"lark without credentials", func(c *Config) { c.Notification.Channel = ChannelLark }},
		{"unknown channel", func(c *Config) { c.Notification.Channel = "sms" }},
		{"reminder interval", func(c *Config) { c.Reminder.PollInterval = 0 }},
		{"reminder batch", func(c *Config) { c.Reminder.BatchSize = 0 }},
		{"logger format", func(c *Config) { c.Logger.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Reminder = ReminderConfig{}
	assert.NoError(t, c.Validate(), "disabled reminders need no settings")
}
