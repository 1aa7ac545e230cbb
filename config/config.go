package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the errand engine
type Config struct {
	General       GeneralConfig       `mapstructure:"general"`
	Server        ServerConfig        `mapstructure:"server"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address          string `mapstructure:"address"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	RunStreamEnabled bool   `mapstructure:"run_stream_enabled"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, anthropic, openrouter
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which provider entry to use for each concern
type LLMRoutingConfig struct {
	Planning string `mapstructure:"planning"` // plan and decision calls
	Fallback string `mapstructure:"fallback"` // used when planning entry is unset
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// OrchestrationConfig bounds the task loop
type OrchestrationConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	MaxPlanCorrections int           `mapstructure:"max_plan_corrections"`
	OracleTimeout      time.Duration `mapstructure:"oracle_timeout"`
	OracleMaxRetries   int           `mapstructure:"oracle_max_retries"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
	StepMaxRetries     int           `mapstructure:"step_max_retries"`
	StepBackoff        time.Duration `mapstructure:"step_backoff"`
	StepConcurrency    int           `mapstructure:"step_concurrency"`
	EventBuffer        int           `mapstructure:"event_buffer"`
}

// ToolsConfig declares the tool providers to register at startup
type ToolsConfig struct {
	Stdio   []StdioToolConfig `mapstructure:"stdio"`
	Browser BrowserConfig     `mapstructure:"browser"`
}

// StdioToolConfig is one child-process tool server speaking JSON-RPC
type StdioToolConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// BrowserConfig controls the headless-browser fetch tool
type BrowserConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Search   SearchConfig   `mapstructure:"search"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// SearchConfig configures the on-disk history search index
type SearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IndexPath string `mapstructure:"index_path"`
}

// ScheduleConfig controls the recurring-request scheduler
type ScheduleConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.run_stream_enabled", true)
	viper.SetDefault("orchestration.max_iterations", 10)
	viper.SetDefault("orchestration.max_plan_corrections", 2)
	viper.SetDefault("orchestration.oracle_timeout", "60s")
	viper.SetDefault("orchestration.oracle_max_retries", 3)
	viper.SetDefault("orchestration.tool_timeout", "30s")
	viper.SetDefault("orchestration.step_max_retries", 3)
	viper.SetDefault("orchestration.step_backoff", "250ms")
	viper.SetDefault("orchestration.step_concurrency", 4)
	viper.SetDefault("orchestration.event_buffer", 128)
	viper.SetDefault("tools.browser.timeout", "30s")
	viper.SetDefault("tools.browser.max_chars", 12000)
	viper.SetDefault("storage.search.index_path", "./data/history.bleve")
	viper.SetDefault("schedule.poll_interval", "30s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ERRAND")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (ERRAND_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
