// Package config loads dealbook settings from a YAML file, a .env file and
// DEALBOOK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/dealbook/pkg/db"
	"github.com/otherjamesbrown/dealbook/pkg/entities"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable table output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultTimeout      = 10 * time.Minute
	DefaultOutputFormat = OutputFormatText
	DefaultLogLevel     = "info"
	DefaultConfigDir    = ".dealbook"
	DefaultConfigFile   = "config.yaml"
	DefaultDotEnvFile   = ".env"
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	Name    string `yaml:"name,omitempty"`
	User    string `yaml:"user,omitempty"`
	SSLMode string `yaml:"sslmode,omitempty"`

	// Password in the file is discouraged; prefer the keyring or
	// DEALBOOK_DB_PASSWORD.
	Password string `yaml:"password,omitempty"`

	// PasswordFromKeyring reads the password stored by
	// `dealbook auth db-password`.
	PasswordFromKeyring bool `yaml:"password_from_keyring,omitempty"`

	MaxConns int32 `yaml:"max_conns,omitempty"`
}

// DB converts the settings to a pool config over the pkg/db defaults.
func (c DatabaseConfig) DB() *db.Config {
	cfg := db.DefaultConfig()
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.Name != "" {
		cfg.Database = c.Name
	}
	if c.User != "" {
		cfg.User = c.User
	}
	if c.SSLMode != "" {
		cfg.SSLMode = c.SSLMode
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
		if cfg.MinConns > cfg.MaxConns {
			cfg.MinConns = cfg.MaxConns
		}
	}
	cfg.Password = c.Password
	return cfg
}

// PolicyConfig is the resolution policy of one entity kind.
type PolicyConfig struct {
	// OnMiss is "strict" or "create".
	OnMiss string `yaml:"on_miss"`
	// Match is "exact", "case_insensitive" or "contains".
	Match string `yaml:"match"`
}

// RedisConfig enables run summary publishing when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Enabled reports whether an address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Config holds every dealbook setting.
type Config struct {
	Database DatabaseConfig `yaml:"database"`

	// Resolution overrides the built-in policy per entity kind.
	Resolution map[string]PolicyConfig `yaml:"resolution,omitempty"`

	// StageOrder lists project stages weakest first. Empty keeps the
	// built-in pipeline.
	StageOrder      []string `yaml:"stage_order,omitempty"`
	StageSentinels  []string `yaml:"stage_sentinels,omitempty"`
	SentinelCeiling string   `yaml:"sentinel_ceiling,omitempty"`

	// NameCorrections maps misspellings to canonical names per kind.
	NameCorrections map[string]map[string]string `yaml:"name_corrections,omitempty"`

	// ColumnAliases adds header aliases per dataset, then field.
	ColumnAliases map[string]map[string][]string `yaml:"column_aliases,omitempty"`

	PreserveSettledPercent bool `yaml:"preserve_settled_percent,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`

	LogLevel     string        `yaml:"log_level,omitempty"`
	LogJSON      bool          `yaml:"log_json,omitempty"`
	OutputFormat OutputFormat  `yaml:"output_format,omitempty"`
	Timeout      time.Duration `yaml:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutputFormat,
		Timeout:      DefaultTimeout,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $DEALBOOK_CONFIG_DIR if set, otherwise ~/.dealbook
func ConfigDir() (string, error) {
	if dir := os.Getenv("DEALBOOK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadDotEnv loads KEY=VALUE pairs from each existing file into the
// environment. Variables already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultDotEnvFile}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads the configuration. Later sources override earlier ones:
// 1. Default values
// 2. Config file (~/.dealbook/config.yaml or $DEALBOOK_CONFIG_DIR/config.yaml)
// 3. Environment variables, including those from ./.env
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom is LoadConfig with an explicit config file. An explicit
// file must exist; the default one may be absent.
func LoadConfigFrom(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	configPath := path
	if configPath == "" {
		var err error
		if configPath, err = ConfigPath(); err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile carries the duration as text.
type configFile struct {
	Config  `yaml:",inline"`
	Timeout string `yaml:"timeout,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	file := configFile{Config: *cfg}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	*cfg = file.Config
	if file.Timeout != "" {
		timeout, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	return nil
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("DEALBOOK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DEALBOOK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DEALBOOK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DEALBOOK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DEALBOOK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DEALBOOK_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if b, ok := envBool("DEALBOOK_DB_PASSWORD_FROM_KEYRING"); ok {
		cfg.Database.PasswordFromKeyring = b
	}

	if v := os.Getenv("DEALBOOK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DEALBOOK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DEALBOOK_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if b, ok := envBool("DEALBOOK_PRESERVE_SETTLED_PERCENT"); ok {
		cfg.PreserveSettledPercent = b
	}
	if v := os.Getenv("DEALBOOK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if b, ok := envBool("DEALBOOK_LOG_JSON"); ok {
		cfg.LogJSON = b
	}
	if v := os.Getenv("DEALBOOK_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("DEALBOOK_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}
}

// Validate checks that the configuration is valid, including that
// policies, stages and corrections parse.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	if _, err := c.Stages(); err != nil {
		return err
	}
	if _, err := c.Corrections(); err != nil {
		return err
	}
	return nil
}

// Policies returns the built-in resolution policies with overrides applied.
func (c *Config) Policies() (map[entities.Kind]entities.Policy, error) {
	policies := entities.DefaultPolicies()
	for name, pc := range c.Resolution {
		kind, err := schema.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("resolution: %w", err)
		}
		p := policies[kind]
		if pc.OnMiss != "" {
			if p.OnMiss, err = entities.ParseMissPolicy(pc.OnMiss); err != nil {
				return nil, fmt.Errorf("resolution.%s: %w", name, err)
			}
		}
		if pc.Match != "" {
			if p.Match, err = entities.ParseMatchMode(pc.Match); err != nil {
				return nil, fmt.Errorf("resolution.%s: %w", name, err)
			}
		}
		policies[kind] = p
	}
	return policies, nil
}

// Stages returns the project stage order.
func (c *Config) Stages() (*merge.StageOrder, error) {
	if len(c.StageOrder) == 0 && len(c.StageSentinels) == 0 && c.SentinelCeiling == "" {
		return merge.DefaultStageOrder(), nil
	}

	stages := c.StageOrder
	if len(stages) == 0 {
		stages = merge.DefaultStages
	}
	sentinels := c.StageSentinels
	if sentinels == nil {
		sentinels = merge.DefaultSentinels
	}
	ceiling := c.SentinelCeiling
	if ceiling == "" {
		ceiling = merge.DefaultSentinelCeiling
	}

	order, err := merge.NewStageOrder(stages, sentinels, ceiling)
	if err != nil {
		return nil, fmt.Errorf("stage_order: %w", err)
	}
	return order, nil
}

// Corrections returns the name-correction table keyed by entity kind.
func (c *Config) Corrections() (entities.Corrections, error) {
	out := make(entities.Corrections, len(c.NameCorrections))
	for name, table := range c.NameCorrections {
		kind, err := schema.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("name_corrections: %w", err)
		}
		if out[kind] == nil {
			out[kind] = map[string]string{}
		}
		for wrong, right := range table {
			if strings.TrimSpace(right) == "" {
				return nil, fmt.Errorf("name_corrections.%s: %q maps to a blank name", name, wrong)
			}
			out[kind][wrong] = right
		}
	}
	return out, nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig writes cfg to the config file with owner-only permissions.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	file := configFile{Config: *cfg}
	if cfg.Timeout != DefaultTimeout {
		file.Timeout = cfg.Timeout.String()
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
