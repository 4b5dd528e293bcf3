//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for pgedge-pmdw.
//
// Configuration comes from, in increasing precedence: built-in defaults,
// the config file, a .env file, PMDW_* environment variables and CLI
// flags. Database endpoints are grouped into named profiles; environment
// overrides apply to the selected profile only, and a profile never
// inherits anything from another one.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pgEdge/pgedge-pmdw/internal/pipeline"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PMDW_"

// minMaxConns covers the run lock, the run transaction and the run log.
const minMaxConns = 3

// Endpoint is one PostgreSQL database.
type Endpoint struct {
	// URL is a complete connection string. When set, the other fields
	// are ignored.
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnectionString renders the endpoint as a PostgreSQL URL.
func (e Endpoint) ConnectionString() string {
	if e.URL != "" {
		return e.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   e.Host,
		Path:   "/" + e.Database,
	}
	if e.Port != 0 {
		u.Host = fmt.Sprintf("%s:%d", e.Host, e.Port)
	}
	if e.Password != "" {
		u.User = url.UserPassword(e.User, e.Password)
	} else if e.User != "" {
		u.User = url.User(e.User)
	}
	if e.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {e.SSLMode}}.Encode()
	}
	return u.String()
}

// Redacted renders the connection string with the password masked.
func (e Endpoint) Redacted() string {
	u, err := url.Parse(e.ConnectionString())
	if err != nil {
		return "<invalid connection string>"
	}
	return u.Redacted()
}

func (e Endpoint) validate(name string) error {
	if e.URL != "" {
		return nil
	}
	var missing []string
	if e.Host == "" {
		missing = append(missing, "host")
	}
	if e.Database == "" {
		missing = append(missing, "database")
	}
	if e.User == "" {
		missing = append(missing, "user")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s endpoint is incomplete, missing %s", name, strings.Join(missing, ", "))
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%s endpoint port %d is out of range", name, e.Port)
	}
	return nil
}

// applyEnv overrides fields from PMDW_<ROLE>_<FIELD> variables.
func (e *Endpoint) applyEnv(role string, getenv func(string) string) error {
	prefix := EnvPrefix + strings.ToUpper(role) + "_"
	str := map[string]*string{
		"URL":      &e.URL,
		"HOST":     &e.Host,
		"DATABASE": &e.Database,
		"USER":     &e.User,
		"PASSWORD": &e.Password,
		"SSLMODE":  &e.SSLMode,
	}
	for key, field := range str {
		if v := getenv(prefix + key); v != "" {
			*field = v
		}
	}
	if v := getenv(prefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", prefix, err)
		}
		e.Port = port
	}
	return nil
}

// Profile is a complete pair of source and destination endpoints.
type Profile struct {
	Source      Endpoint `mapstructure:"source"`
	Destination Endpoint `mapstructure:"destination"`
}

// Config holds all configuration for pgedge-pmdw.
type Config struct {
	// Profile names the selected entry of Profiles.
	Profile string `mapstructure:"profile"`

	// Profiles maps profile names to endpoints.
	Profiles map[string]Profile `mapstructure:"profiles"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format"`

	// Run holds configuration for the run subcommand.
	Run RunConfig `mapstructure:"run"`

	// Metrics holds Pushgateway settings.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Seed holds configuration for the seed subcommand.
	Seed SeedConfig `mapstructure:"seed"`
}

// RunConfig holds configuration for pipeline runs.
type RunConfig struct {
	// Mode is "full" or "incremental".
	Mode string `mapstructure:"mode"`

	// Strategy names the transform strategy.
	Strategy string `mapstructure:"strategy"`

	// MarginDays pads the time dimension on both sides.
	MarginDays int `mapstructure:"margin_days"`

	// MaxConns caps each connection pool.
	MaxConns int `mapstructure:"max_conns"`

	// ConnectTimeout is in seconds.
	ConnectTimeout int `mapstructure:"connect_timeout"`
}

// MetricsConfig holds Pushgateway settings.
type MetricsConfig struct {
	// PushURL is the Pushgateway address; empty disables pushing.
	PushURL string `mapstructure:"push_url"`

	// Job is the Pushgateway job label.
	Job string `mapstructure:"job"`
}

// SeedConfig controls the size of the fake source data set.
type SeedConfig struct {
	Clients         int   `mapstructure:"clients"`
	Employees       int   `mapstructure:"employees"`
	Teams           int   `mapstructure:"teams"`
	Projects        int   `mapstructure:"projects"`
	TasksPerProject int   `mapstructure:"tasks_per_project"`
	Seed            int64 `mapstructure:"seed"`
	DropExisting    bool  `mapstructure:"drop_existing"`
}

func localEndpoint(database string) Endpoint {
	return Endpoint{Host: "localhost", Port: 5432, Database: database, User: "postgres", SSLMode: "prefer"}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Profile: "local",
		Profiles: map[string]Profile{
			"local": {
				Source:      localEndpoint("pm_source"),
				Destination: localEndpoint("pm_warehouse"),
			},
			"distributed": {
				Source:      Endpoint{Host: "pm-source", Port: 5432, Database: "pm_source", User: "pmdw", SSLMode: "require"},
				Destination: Endpoint{Host: "pm-warehouse", Port: 5432, Database: "pm_warehouse", User: "pmdw", SSLMode: "require"},
			},
			"test": {
				Source:      localEndpoint("pm_source_test"),
				Destination: localEndpoint("pm_warehouse_test"),
			},
		},
		LogLevel:  "info",
		LogFormat: "console",
		Run: RunConfig{
			Mode:           string(pipeline.ModeFull),
			Strategy:       transform.InProcessName,
			MarginDays:     365,
			MaxConns:       4,
			ConnectTimeout: 10,
		},
		Metrics: MetricsConfig{
			Job: "pgedge-pmdw",
		},
		Seed: SeedConfig{
			Clients:         20,
			Employees:       60,
			Teams:           8,
			Projects:        50,
			TasksPerProject: 8,
			Seed:            1,
		},
	}
}

// LoadEnvFile loads variables from a .env file into the environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./pgedge-pmdw.yaml
// 3. ~/.config/pgedge-pmdw/config.yaml
//
// Profiles defined in the file replace built-in profiles of the same name
// as a whole.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("pgedge-pmdw")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pgedge-pmdw"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	builtin := cfg.Profiles
	cfg.Profiles = nil

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	merged := make(map[string]Profile, len(builtin)+len(cfg.Profiles))
	for name, p := range builtin {
		merged[name] = p
	}
	for name, p := range cfg.Profiles {
		merged[name] = p
	}
	cfg.Profiles = merged

	return cfg, nil
}

// ApplyEnv applies PMDW_PROFILE, PMDW_LOG_LEVEL and the endpoint
// overrides PMDW_SOURCE_* and PMDW_DESTINATION_* to the selected profile.
// Other profiles are left untouched.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPrefix + "PROFILE"); v != "" {
		c.Profile = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvPrefix + "METRICS_PUSH_URL"); v != "" {
		c.Metrics.PushURL = v
	}

	p, ok := c.Profiles[c.Profile]
	if !ok {
		return nil
	}
	if err := p.Source.applyEnv("source", getenv); err != nil {
		return err
	}
	if err := p.Destination.applyEnv("destination", getenv); err != nil {
		return err
	}
	c.Profiles[c.Profile] = p
	return nil
}

// Selected returns the selected profile.
func (c *Config) Selected() (Profile, error) {
	p, ok := c.Profiles[c.Profile]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %s)",
			c.Profile, strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames returns the configured profile names in order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the selected profile is complete.
func (c *Config) Validate() error {
	p, err := c.Selected()
	if err != nil {
		return err
	}
	if err := p.Source.validate("source"); err != nil {
		return fmt.Errorf("profile %s: %w", c.Profile, err)
	}
	if err := p.Destination.validate("destination"); err != nil {
		return fmt.Errorf("profile %s: %w", c.Profile, err)
	}
	return nil
}

// ValidateRun checks configuration required for run command.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := pipeline.ParseMode(c.Run.Mode); err != nil {
		return err
	}
	if !slices.Contains(transform.List(), c.Run.Strategy) {
		return fmt.Errorf("unknown strategy %q (available: %s)",
			c.Run.Strategy, strings.Join(transform.List(), ", "))
	}
	if c.Run.MarginDays < 0 {
		return fmt.Errorf("margin_days must be non-negative")
	}
	if c.Run.MaxConns < minMaxConns {
		return fmt.Errorf("max_conns must be at least %d", minMaxConns)
	}
	if c.Run.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must be non-negative")
	}
	return nil
}

// ValidateSeed checks configuration required for seed command.
func (c *Config) ValidateSeed() error {
	p, err := c.Selected()
	if err != nil {
		return err
	}
	if err := p.Source.validate("source"); err != nil {
		return fmt.Errorf("profile %s: %w", c.Profile, err)
	}
	s := c.Seed
	if s.Clients < 1 || s.Employees < 1 || s.Teams < 1 {
		return fmt.Errorf("seed needs at least one client, employee and team")
	}
	if s.Projects < 0 || s.TasksPerProject < 0 {
		return fmt.Errorf("projects and tasks_per_project must be non-negative")
	}
	return nil
}
