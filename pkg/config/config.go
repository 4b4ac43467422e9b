package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application configuration. Values come from an optional
// YAML file and MODLOG_* environment variables.
type Config struct {
	DBPath     string `yaml:"db_path" env:"MODLOG_DB_PATH" env-default:"modlog.db" validate:"required"`
	MediaDir   string `yaml:"media_dir" env:"MODLOG_MEDIA_DIR" env-default:"media/logs" validate:"required"`
	BackupDir  string `yaml:"backup_dir" env:"MODLOG_BACKUP_DIR" env-default:"backup" validate:"required"`
	StylesDir  string `yaml:"styles_dir" env:"MODLOG_STYLES_DIR" env-default:"styles" validate:"required"`
	Style      string `yaml:"style" env:"MODLOG_STYLE" env-default:"normal" validate:"required"`
	AdminGroup string `yaml:"admin_group" env:"MODLOG_ADMIN_GROUP" validate:"omitempty,numeric"`

	Backup   BackupConfig   `yaml:"backup"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Conflict ConflictConfig `yaml:"conflict"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// BackupConfig controls the backup scheduler
type BackupConfig struct {
	// Time is the daily check time, "HH:MM"
	Time      string `yaml:"time" env:"MODLOG_BACKUP_TIME" env-default:"04:00" validate:"required,datetime=15:04"`
	DelayDays int    `yaml:"delay_days" env:"MODLOG_BACKUP_DELAY_DAYS" env-default:"7" validate:"gte=1"`
	Limit     int    `yaml:"limit" env:"MODLOG_BACKUP_LIMIT" env-default:"10" validate:"gte=1"`
	// Auto is "on" or "off"; a string so an explicit off survives defaulting
	Auto    string `yaml:"auto" env:"MODLOG_BACKUP_AUTO" env-default:"on" validate:"oneof=on off"`
	StateDB string `yaml:"state_db" env:"MODLOG_STATE_DB" env-default:"modlog-state.db" validate:"required"`
}

// AutoEnabled reports whether scheduled backups start with the service
func (c BackupConfig) AutoEnabled() bool {
	return c.Auto == "on"
}

// BridgeConfig controls the mutation bridge
type BridgeConfig struct {
	Budget       time.Duration `yaml:"budget" env:"MODLOG_BRIDGE_BUDGET" env-default:"10s" validate:"gt=0"`
	PollInterval time.Duration `yaml:"poll_interval" env:"MODLOG_BRIDGE_POLL" env-default:"5s" validate:"gt=0"`
	QueueSize    int           `yaml:"queue_size" env:"MODLOG_BRIDGE_QUEUE" env-default:"64" validate:"gte=1"`
}

// ConflictConfig controls the optimistic conflict cache
type ConflictConfig struct {
	Window   time.Duration `yaml:"window" env:"MODLOG_CONFLICT_WINDOW" env-default:"5m" validate:"gt=0"`
	Capacity int           `yaml:"capacity" env:"MODLOG_CONFLICT_CAPACITY" env-default:"10" validate:"gte=1"`
}

// HTTPConfig controls the health and metrics listener
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"MODLOG_HTTP_ADDR" env-default:"127.0.0.1:9180"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `yaml:"level" env:"MODLOG_LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" env:"MODLOG_LOG_JSON" env-default:"false"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration file at path, falling back to environment
// variables and defaults when path is empty or missing.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			return &cfg, Validate(&cfg)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, Validate(&cfg)
}

// Validate checks struct-level constraints on cfg
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
