package config

import (
	"fmt"

	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/internal/timeutil"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Jobs    JobsConfig    `json:"jobs"`

	// Snapshots is where apply-mode repairs write their pre-mutation CSV
	// dumps. Default "./snapshots".
	Snapshots SnapshotsConfig `json:"snapshots,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./shiftctl.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JobsConfig controls the recurring sweeps.
//
// Cron specs use the standard five-field format and run in Timezone, which
// is also the admin timezone templates fall back to when they carry none.
type JobsConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// ExpandSpec triggers recurrence expansion for active templates.
	// Default "30 2 * * *" (nightly).
	ExpandSpec string `json:"expand_spec,omitempty"`

	// ReconcileSpec triggers the timesheet sweep. Default "*/15 * * * *".
	ReconcileSpec string `json:"reconcile_spec,omitempty"`

	// ConflictSpec triggers the conflict scan (detection only).
	// Default "0 3 * * *".
	ConflictSpec string `json:"conflict_spec,omitempty"`

	// HorizonDays is the expansion window for templates that don't set
	// their own. Default 14.
	HorizonDays int `json:"horizon_days,omitempty"`
}

type SnapshotsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// Validate rejects configs the services would choke on later. Called by the
// watcher before a reload is committed, so a bad edit never replaces a
// running config.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Jobs.Timezone != "" {
		if _, err := timeutil.LoadZone(c.Jobs.Timezone); err != nil {
			return fmt.Errorf("jobs.timezone: %w", err)
		}
	}
	if c.Jobs.HorizonDays < 0 {
		return fmt.Errorf("jobs.horizon_days: must be >= 0")
	}
	return nil
}

// LogxConfig maps the logging section onto the log service's own config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// StoreConfig maps the storage section onto the store driver config.
func (c *Config) StoreConfig() (store.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	driver := c.Storage.Driver
	if driver == "" {
		driver = "memory"
	}
	return store.Config{Driver: driver, Path: c.Storage.Path, BusyTimeout: busy}, nil
}

// JobDefaults fills the unset jobs fields.
func (c *Config) JobDefaults() JobsConfig {
	j := c.Jobs
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}
	if j.ExpandSpec == "" {
		j.ExpandSpec = "30 2 * * *"
	}
	if j.ReconcileSpec == "" {
		j.ReconcileSpec = "*/15 * * * *"
	}
	if j.ConflictSpec == "" {
		j.ConflictSpec = "0 3 * * *"
	}
	if j.HorizonDays <= 0 {
		j.HorizonDays = 14
	}
	return j
}

// SnapshotDir is the snapshot directory with its default applied.
func (c *Config) SnapshotDir() string {
	if c.Snapshots.Dir == "" {
		return "snapshots"
	}
	return c.Snapshots.Dir
}
