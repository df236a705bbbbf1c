package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the default directory for load generator output.
	DefaultOutputDir = "./outputs"

	// DefaultTargetHost is the default benchmark target.
	DefaultTargetHost = "http://localhost:3020"

	// DefaultDurationSeconds is the default run duration.
	DefaultDurationSeconds = 120

	// DefaultCooldownSeconds is the default pause between suite runs.
	DefaultCooldownSeconds = 30

	// DefaultSpawnRate is the default user spawn rate per second.
	DefaultSpawnRate = 5

	// DefaultLoadGenBinary is the load generator executable.
	DefaultLoadGenBinary = "locust"

	// DefaultNATSURL is the default streaming channel address.
	DefaultNATSURL = "nats://localhost:4222"

	// DefaultMetricsTopic is the subject the metrics agent publishes to.
	DefaultMetricsTopic = "metrics"

	// envPrefix is the prefix for environment variable overrides.
	envPrefix = "benchmark"
)

// Config is the root configuration for benchsuite.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	LoadGen   LoadGenConfig   `yaml:"loadgen"`
	Collector CollectorConfig `yaml:"collector"`
	Database  DatabaseConfig  `yaml:"database"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// BenchmarkConfig describes the suite to run.
type BenchmarkConfig struct {
	AppName         string `yaml:"app_name"`
	Stage           int    `yaml:"stage"`
	TargetHost      string `yaml:"target_host"`
	DurationSeconds int    `yaml:"duration_seconds"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
	SpawnRate       int    `yaml:"spawn_rate"`
	UserCounts      []int  `yaml:"user_counts"`
	OutputDir       string `yaml:"output_dir"`
	Notes           string `yaml:"notes,omitempty"`
}

// LoadGenConfig describes how to invoke the external load generator.
type LoadGenConfig struct {
	Binary string `yaml:"binary"`
	Script string `yaml:"script"`
}

// CollectorConfig describes the streaming metrics channel.
type CollectorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Topic   string `yaml:"topic"`
}

// DatabaseConfig describes the result store connection.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses a configuration file from the given path.
// Environment variables override connection settings after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Benchmark.TargetHost == "" {
		c.Benchmark.TargetHost = DefaultTargetHost
	}

	if c.Benchmark.DurationSeconds == 0 {
		c.Benchmark.DurationSeconds = DefaultDurationSeconds
	}

	if c.Benchmark.CooldownSeconds == 0 {
		c.Benchmark.CooldownSeconds = DefaultCooldownSeconds
	}

	if c.Benchmark.SpawnRate == 0 {
		c.Benchmark.SpawnRate = DefaultSpawnRate
	}

	if c.Benchmark.OutputDir == "" {
		c.Benchmark.OutputDir = DefaultOutputDir
	}

	if c.LoadGen.Binary == "" {
		c.LoadGen.Binary = DefaultLoadGenBinary
	}

	if c.Collector.NATSURL == "" {
		c.Collector.NATSURL = DefaultNATSURL
	}

	if c.Collector.Topic == "" {
		c.Collector.Topic = DefaultMetricsTopic
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Database.Postgres.Host == "" {
		c.Database.Postgres.Host = "localhost"
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
}

// applyEnvOverrides overlays connection settings from the environment
// (BENCHMARK_DB_HOST, BENCHMARK_DB_PORT, BENCHMARK_DB_NAME,
// BENCHMARK_DB_USER, BENCHMARK_DB_PASSWORD, BENCHMARK_NATS_URL).
func (c *Config) applyEnvOverrides() {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if host := v.GetString("db_host"); host != "" {
		c.Database.Postgres.Host = host
	}

	if port := v.GetInt("db_port"); port != 0 {
		c.Database.Postgres.Port = port
	}

	if name := v.GetString("db_name"); name != "" {
		c.Database.Postgres.Database = name
	}

	if user := v.GetString("db_user"); user != "" {
		c.Database.Postgres.User = user
	}

	if password := v.GetString("db_password"); password != "" {
		c.Database.Postgres.Password = password
	}

	if url := v.GetString("nats_url"); url != "" {
		c.Collector.NATSURL = url
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Benchmark.AppName == "" {
		return fmt.Errorf("benchmark.app_name is required")
	}

	if c.Benchmark.Stage < 0 || c.Benchmark.Stage > 2 {
		return fmt.Errorf("benchmark.stage must be 0, 1 or 2, got %d", c.Benchmark.Stage)
	}

	if len(c.Benchmark.UserCounts) == 0 {
		return fmt.Errorf("benchmark.user_counts must list at least one concurrency level")
	}

	for i, users := range c.Benchmark.UserCounts {
		if users <= 0 {
			return fmt.Errorf("benchmark.user_counts[%d]: must be positive, got %d", i, users)
		}
	}

	if c.LoadGen.Script == "" {
		return fmt.Errorf("loadgen.script is required")
	}

	if _, err := os.Stat(c.LoadGen.Script); os.IsNotExist(err) {
		return fmt.Errorf("loadgen.script %q does not exist", c.LoadGen.Script)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("database.sqlite.path is required for the sqlite driver")
	}

	return nil
}
