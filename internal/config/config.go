// Package config loads service settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts strings such as "15s" or "168h".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds every tunable of the service.
type Config struct {
	Port      int    `yaml:"port"`
	LogDir    string `yaml:"log_dir"`
	MasterLog string `yaml:"master_log"`

	Workers  int      `yaml:"workers"`
	JobDelay Duration `yaml:"job_delay"`

	// Zero disables retention of generated files and finished jobs.
	OutputRetention Duration `yaml:"output_retention"`
	CleanerInterval Duration `yaml:"cleaner_interval"`
	JobTTL          Duration `yaml:"job_ttl"`

	// StateFile, when set, persists the job registry across restarts.
	StateFile string `yaml:"state_file"`

	VisitRate int `yaml:"visit_rate"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:            8080,
		LogDir:          "logs",
		MasterLog:       "app.log",
		Workers:         4,
		CleanerInterval: Duration(time.Hour),
		VisitRate:       1000,
	}
}

// Load reads path on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir is required"))
	}
	if c.MasterLog == "" || c.MasterLog != filepath.Base(c.MasterLog) {
		errs = append(errs, fmt.Errorf("master_log %q must be a plain file name", c.MasterLog))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.VisitRate <= 0 {
		errs = append(errs, fmt.Errorf("visit_rate must be positive, got %d", c.VisitRate))
	}
	for name, d := range map[string]Duration{
		"job_delay":        c.JobDelay,
		"output_retention": c.OutputRetention,
		"cleaner_interval": c.CleanerInterval,
		"job_ttl":          c.JobTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if (c.OutputRetention > 0 || c.JobTTL > 0) && c.CleanerInterval <= 0 {
		errs = append(errs, errors.New("cleaner_interval must be positive when retention is enabled"))
	}
	return errors.Join(errs...)
}
