package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	QueryEngine  QueryEngineConfig  `mapstructure:"query_engine"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port    int           `mapstructure:"port" default:"8000"`
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueryEngineConfig points at the external query-execution service.
type QueryEngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OrchestratorConfig holds the tuning knobs for widget query execution,
// lazy loading and layout autosave.
type OrchestratorConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	LazyLoad      bool          `mapstructure:"lazy_load"`
	Debounce      time.Duration `mapstructure:"debounce"`
	SavedDuration time.Duration `mapstructure:"saved_duration"`
	DashboardTTL  time.Duration `mapstructure:"dashboard_ttl"`
	ResponseTTL   time.Duration `mapstructure:"response_ttl"`
	SampleLimit   int           `mapstructure:"sample_limit"`
	StreamBacklog int           `mapstructure:"stream_backlog"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultOrchestrator returns the orchestrator knobs used when the config
// file leaves them unset.
func DefaultOrchestrator() OrchestratorConfig {
	return OrchestratorConfig{
		BatchSize:     4,
		LazyLoad:      true,
		Debounce:      800 * time.Millisecond,
		SavedDuration: 2 * time.Second,
		DashboardTTL:  5 * time.Minute,
		ResponseTTL:   time.Minute,
		SampleLimit:   50,
		StreamBacklog: 64,
	}
}

func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// If CONFIG_FILE environment variable is set, use it
	if envConfigFile := os.Getenv("CONFIG_FILE"); envConfigFile != "" {
		configPath = envConfigFile
	}

	// Initialize viper
	v := viper.New()
	v.SetConfigType("yaml")

	// If configPath is provided, use it directly
	if configPath != "" {
		dir := filepath.Dir(configPath)
		file := filepath.Base(configPath)
		ext := filepath.Ext(file)
		name := strings.TrimSuffix(file, ext)

		v.AddConfigPath(dir)
		v.SetConfigName(name)
	} else {
		// Fallback to default locations
		_, filename, _, _ := runtime.Caller(0)
		pkgConfigDir := filepath.Dir(filename)
		projectRoot := filepath.Join(pkgConfigDir, "..", "..")

		v.AddConfigPath(pkgConfigDir)
		v.AddConfigPath(projectRoot)
		v.AddConfigPath(filepath.Join(projectRoot, "pkg", "config"))
		v.SetConfigName("config")
	}

	def := DefaultOrchestrator()
	v.SetDefault("orchestrator.batch_size", def.BatchSize)
	v.SetDefault("orchestrator.lazy_load", def.LazyLoad)
	v.SetDefault("orchestrator.debounce", def.Debounce)
	v.SetDefault("orchestrator.saved_duration", def.SavedDuration)
	v.SetDefault("orchestrator.dashboard_ttl", def.DashboardTTL)
	v.SetDefault("orchestrator.response_ttl", def.ResponseTTL)
	v.SetDefault("orchestrator.sample_limit", def.SampleLimit)
	v.SetDefault("orchestrator.stream_backlog", def.StreamBacklog)
	v.SetDefault("query_engine.timeout", 30*time.Second)

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error loading config file: %v", err)
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Override with environment variables if they exist
	envVars := map[string]string{
		"database.host":           "DB_HOST",
		"database.port":           "DB_PORT",
		"database.user":           "DB_USER",
		"database.password":       "DB_PASSWORD",
		"database.name":           "DB_NAME",
		"database.sslmode":        "DB_SSLMODE",
		"server.mode":             "SERVER_MODE",
		"server.timeout":          "SERVER_TIMEOUT",
		"redis.host":              "REDIS_HOST",
		"redis.port":              "REDIS_PORT",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"query_engine.base_url":   "QUERY_ENGINE_URL",
		"query_engine.timeout":    "QUERY_ENGINE_TIMEOUT",
		"orchestrator.batch_size": "ORCHESTRATOR_BATCH_SIZE",
		"orchestrator.lazy_load":  "ORCHESTRATOR_LAZY_LOAD",
		"orchestrator.debounce":   "ORCHESTRATOR_DEBOUNCE",
		"logging.level":           "LOG_LEVEL",
		"logging.format":          "LOG_FORMAT",
	}

	for configKey, envVar := range envVars {
		if value := os.Getenv(envVar); value != "" {
			// Handle special cases for type conversion
			switch envVar {
			case "DB_PORT", "REDIS_PORT", "ORCHESTRATOR_BATCH_SIZE":
				if intVal, err := strconv.Atoi(value); err == nil {
					v.Set(configKey, intVal)
				}
			case "SERVER_TIMEOUT", "QUERY_ENGINE_TIMEOUT", "ORCHESTRATOR_DEBOUNCE":
				if d, err := time.ParseDuration(value); err == nil {
					v.Set(configKey, d)
				}
			case "ORCHESTRATOR_LAZY_LOAD":
				if value == "true" || value == "1" {
					v.Set(configKey, true)
				} else if value == "false" || value == "0" {
					v.Set(configKey, false)
				}
			default:
				v.Set(configKey, value)
			}
		}
	}

	// Unmarshal config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	return &config, nil
}
