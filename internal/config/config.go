package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// EOWC Over-Window Worker - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	StateTable StateTableConfig `yaml:"state_table"`
	Epoch      EpochConfig      `yaml:"epoch"`
	Operator   OperatorConfig   `yaml:"operator"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	MetricsAddr     string `yaml:"metrics_addr"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// StateTableConfig selects and configures the durable state-table backend.
type StateTableConfig struct {
	Backend string        `yaml:"backend"` // "spanner" or "memory"
	Spanner SpannerConfig `yaml:"spanner"`
}

type SpannerConfig struct {
	ProjectID  string `yaml:"project_id"`
	InstanceID string `yaml:"instance_id"`
	DatabaseID string `yaml:"database_id"`
	Table      string `yaml:"table"`
}

// EpochConfig selects and configures the watermark-epoch source shared
// with the memory manager driving partition-cache eviction.
type EpochConfig struct {
	Backend string      `yaml:"backend"` // "local" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	KeyName  string `yaml:"key_name"`
}

// OperatorConfig describes the EOWC operator instance itself: the window
// function calls it evaluates and the column projections that define
// partitioning, ordering, and row identity.
type OperatorConfig struct {
	ExecutorID          uint64       `yaml:"executor_id"`
	PartitionKeyIndices []int        `yaml:"partition_key_indices"`
	OrderKeyIndex       int          `yaml:"order_key_index"`
	InputPKIndices      []int        `yaml:"input_pk_indices"`
	Calls               []CallConfig `yaml:"calls"`
	CacheMaxPartitions  int          `yaml:"cache_max_partitions"`

	// TotalVnodes is the size of the vnode space partition keys hash into;
	// OwnedVnodes is this replica's initial slice of it. Empty means "owns
	// every vnode", the single-replica default — a deployment only needs
	// these once an operator instance's partitions are actually split
	// across more than one replica.
	TotalVnodes uint32   `yaml:"total_vnodes"`
	OwnedVnodes []uint32 `yaml:"owned_vnodes"`
}

type CallConfig struct {
	Kind       string `yaml:"kind"` // lag, lead, row_number, rank, dense_rank, sum, count, avg, min, max
	ArgIndex   int    `yaml:"arg_index"`
	ReturnType string `yaml:"return_type"` // int64, float64, string
	Offset     int64  `yaml:"offset"`      // lag/lead
	Preceding  int64  `yaml:"preceding"`   // aggregate frame, -1 = unbounded
	Following  int64  `yaml:"following"`   // aggregate frame
}

type MonitoringConfig struct {
	EnablePrometheus bool `yaml:"enable_prometheus"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("EOWC_ENV", c.Server.Env)
	c.Server.MetricsAddr = getEnv("EOWC_METRICS_ADDR", c.Server.MetricsAddr)
	if v := getEnvInt("EOWC_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.StateTable.Backend = getEnv("EOWC_STATE_TABLE_BACKEND", c.StateTable.Backend)
	c.StateTable.Spanner.ProjectID = getEnv("SPANNER_PROJECT_ID", c.StateTable.Spanner.ProjectID)
	c.StateTable.Spanner.InstanceID = getEnv("SPANNER_INSTANCE_ID", c.StateTable.Spanner.InstanceID)
	c.StateTable.Spanner.DatabaseID = getEnv("SPANNER_DATABASE_ID", c.StateTable.Spanner.DatabaseID)
	c.StateTable.Spanner.Table = getEnv("SPANNER_STATE_TABLE", c.StateTable.Spanner.Table)

	c.Epoch.Backend = getEnv("EOWC_EPOCH_BACKEND", c.Epoch.Backend)
	c.Epoch.Redis.Addr = getEnv("REDIS_ADDR", c.Epoch.Redis.Addr)
	c.Epoch.Redis.Password = getEnv("REDIS_PASSWORD", c.Epoch.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Epoch.Redis.DB = v
	}
	c.Epoch.Redis.KeyName = getEnv("REDIS_EPOCH_KEY", c.Epoch.Redis.KeyName)

	if v := getEnvInt("EOWC_CACHE_MAX_PARTITIONS", 0); v > 0 {
		c.Operator.CacheMaxPartitions = v
	}

	c.Monitoring.EnablePrometheus = getEnvBool("EOWC_ENABLE_PROMETHEUS", c.Monitoring.EnablePrometheus)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.StateTable.Backend == "" {
		c.StateTable.Backend = "memory"
	}
	if c.StateTable.Spanner.Table == "" {
		c.StateTable.Spanner.Table = "eowc_state"
	}
	if c.Epoch.Backend == "" {
		c.Epoch.Backend = "local"
	}
	if c.Epoch.Redis.KeyName == "" {
		c.Epoch.Redis.KeyName = "eowc:watermark_epoch"
	}
	if c.Operator.CacheMaxPartitions == 0 {
		c.Operator.CacheMaxPartitions = 4096
	}
	if c.Operator.TotalVnodes == 0 {
		c.Operator.TotalVnodes = 256
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
