package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, "modlog.db", cfg.DBPath)
	assert.Equal(t, "normal", cfg.Style)
	assert.Equal(t, "04:00", cfg.Backup.Time)
	assert.Equal(t, 7, cfg.Backup.DelayDays)
	assert.Equal(t, 10, cfg.Backup.Limit)
	assert.True(t, cfg.Backup.AutoEnabled())
	assert.Equal(t, 10*time.Second, cfg.Bridge.Budget)
	assert.Equal(t, 5*time.Second, cfg.Bridge.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Conflict.Window)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modlog.yml")
	doc := `
db_path: /var/lib/modlog/logs.db
admin_group: "900001"
backup:
  time: "23:30"
  delay_days: 3
  limit: 4
  auto: "off"
bridge:
  budget: 2s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/modlog/logs.db", cfg.DBPath)
	assert.Equal(t, "900001", cfg.AdminGroup)
	assert.Equal(t, "23:30", cfg.Backup.Time)
	assert.Equal(t, 3, cfg.Backup.DelayDays)
	assert.Equal(t, 4, cfg.Backup.Limit)
	assert.False(t, cfg.Backup.AutoEnabled())
	assert.Equal(t, 2*time.Second, cfg.Bridge.Budget)
	assert.Equal(t, 5*time.Second, cfg.Bridge.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backup time", func(c *Config) { c.Backup.Time = "25:00" }},
		{"zero limit", func(c *Config) { c.Backup.Limit = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"non numeric admin group", func(c *Config) { c.AdminGroup = "admins" }},
		{"zero budget", func(c *Config) { c.Bridge.Budget = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
