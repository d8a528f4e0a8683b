package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TAXIFLOW_BATCH_CHUNK_SIZE for batch.chunk_size.
const EnvPrefix = "TAXIFLOW"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	CORS       CORSConfig       `mapstructure:"cors"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
	Model      ModelConfig      `mapstructure:"model"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Validation ValidationConfig `mapstructure:"validation"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	// Enabled turns run recording on for the batch services.
	Enabled bool `mapstructure:"enabled"`
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type CORSConfig struct {
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type MQTTConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Dir, when set, receives a copy of every log line. It is the "logs"
	// directory of the retention policy.
	Dir string `mapstructure:"dir"`
}

type ModelConfig struct {
	Path string `mapstructure:"path"`
}

type BatchConfig struct {
	InputDir     string        `mapstructure:"input_dir"`
	OutputDir    string        `mapstructure:"output_dir"`
	ProcessedDir string        `mapstructure:"processed_dir"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	Parallel     bool          `mapstructure:"parallel"`
	OutputFormat string        `mapstructure:"output_format"`
	Interval     time.Duration `mapstructure:"interval"`
	// RunTimeout bounds a single run. Zero disables the deadline.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

type ValidationConfig struct {
	MinLocationID int `mapstructure:"min_location_id"`
	MaxLocationID int `mapstructure:"max_location_id"`
}

type MonitorConfig struct {
	CPUCeilingPercent    float64       `mapstructure:"cpu_ceiling_percent"`
	MemoryCeilingPercent float64       `mapstructure:"memory_ceiling_percent"`
	MinAvailableMemoryGB float64       `mapstructure:"min_available_memory_gb"`
	CPUSampleWindow      time.Duration `mapstructure:"cpu_sample_window"`
	DiskPath             string        `mapstructure:"disk_path"`
	SampleDuringRun      time.Duration `mapstructure:"sample_during_run"`
}

type RetentionConfig struct {
	OutputDays    int           `mapstructure:"output_days"`
	LogsDays      int           `mapstructure:"logs_days"`
	ProcessedDays int           `mapstructure:"processed_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

type IngestConfig struct {
	MaxRecords    int           `mapstructure:"max_records"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9696)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "taxiflow")
	v.SetDefault("database.password", "taxiflow_dev_password")
	v.SetDefault("database.name", "taxiflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.enabled", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("cors.allowed_origins", "*")

	v.SetDefault("mqtt.url", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "taxiflow/trips/+")

	v.SetDefault("metrics.addr", ":8080")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.dir", "")

	v.SetDefault("model.path", "lin_reg.bin")

	v.SetDefault("batch.input_dir", "data/input")
	v.SetDefault("batch.output_dir", "data/output")
	v.SetDefault("batch.processed_dir", "data/processed")
	v.SetDefault("batch.chunk_size", 10000)
	v.SetDefault("batch.max_workers", 2)
	v.SetDefault("batch.parallel", true)
	v.SetDefault("batch.output_format", "parquet")
	v.SetDefault("batch.interval", 2*time.Hour)
	v.SetDefault("batch.run_timeout", time.Duration(0))

	v.SetDefault("validation.min_location_id", 1)
	v.SetDefault("validation.max_location_id", 263)

	v.SetDefault("monitor.cpu_ceiling_percent", 90.0)
	v.SetDefault("monitor.memory_ceiling_percent", 90.0)
	v.SetDefault("monitor.min_available_memory_gb", 1.0)
	v.SetDefault("monitor.cpu_sample_window", time.Second)
	v.SetDefault("monitor.disk_path", "/")
	v.SetDefault("monitor.sample_during_run", time.Duration(0))

	v.SetDefault("retention.output_days", 30)
	v.SetDefault("retention.logs_days", 7)
	v.SetDefault("retention.processed_days", 14)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("ingest.max_records", 1000)
	v.SetDefault("ingest.flush_interval", 5*time.Minute)
}

// LoadConfig reads defaults, an optional file named by TAXIFLOW_CONFIG and
// TAXIFLOW_* environment overrides, in increasing precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be positive, got %d", c.Batch.ChunkSize)
	}
	if c.Batch.MaxWorkers <= 0 {
		return fmt.Errorf("batch.max_workers must be positive, got %d", c.Batch.MaxWorkers)
	}
	if c.Validation.MaxLocationID <= 0 {
		return fmt.Errorf("validation.max_location_id must be positive, got %d", c.Validation.MaxLocationID)
	}
	if c.Validation.MinLocationID > c.Validation.MaxLocationID {
		return fmt.Errorf("validation range [%d, %d] is inverted",
			c.Validation.MinLocationID, c.Validation.MaxLocationID)
	}
	for name, days := range map[string]int{
		"retention.output_days":    c.Retention.OutputDays,
		"retention.logs_days":      c.Retention.LogsDays,
		"retention.processed_days": c.Retention.ProcessedDays,
	} {
		if days <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, days)
		}
	}
	for name, d := range map[string]time.Duration{
		"batch.interval":        c.Batch.Interval,
		"retention.interval":    c.Retention.Interval,
		"ingest.flush_interval": c.Ingest.FlushInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Batch.RunTimeout < 0 {
		return fmt.Errorf("batch.run_timeout must not be negative, got %s", c.Batch.RunTimeout)
	}
	if c.Ingest.MaxRecords <= 0 {
		return fmt.Errorf("ingest.max_records must be positive, got %d", c.Ingest.MaxRecords)
	}
	return nil
}

// Addr is the listen address of the HTTP API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
