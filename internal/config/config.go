package config

import (
	"fmt"
	"os"
	"time"

	"workout-engine/common/config"
	"workout-engine/internal/models"
	"workout-engine/internal/scoring"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

// Config workout engine configuration
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8090"`
	Location string `env:"VENUE_LOCATION" envDefault:"default"`

	Database   config.DatabaseConfig   `envPrefix:"DB_"`
	Redis      config.RedisConfig      `envPrefix:"REDIS_"`
	MQTT       config.MQTTConfig       `envPrefix:"MQTT_"`
	ClickHouse config.ClickHouseConfig `envPrefix:"CLICKHOUSE_"`

	Telemetry struct {
		Mode string `env:"TELEMETRY_MODE" envDefault:"simulated"`
		// device hub; empty disables discovery
		BaseURL           string        `env:"TELEMETRY_BASE_URL"`
		Timeout           time.Duration `env:"TELEMETRY_TIMEOUT"  envDefault:"5s"`
		SimulatorInterval time.Duration `env:"SIMULATOR_INTERVAL" envDefault:"2s"`
		PollerInterval    time.Duration `env:"POLLER_INTERVAL"    envDefault:"1s"`
		SampleWindow      int           `env:"SAMPLE_WINDOW"      envDefault:"1000"`
		// empty keeps the per-mode default
		CaloriePolicy string `env:"CALORIE_POLICY"`
	}

	Devices struct {
		SyncInterval time.Duration `env:"DEVICE_SYNC_INTERVAL" envDefault:"30s"`
	}

	Publish struct {
		MetricsCacheTTL time.Duration `env:"METRICS_CACHE_TTL" envDefault:"10m"`
		MQTTEnabled     bool          `env:"MQTT_ENABLED"      envDefault:"false"`
		ArchiveEnabled  bool          `env:"ARCHIVE_ENABLED"   envDefault:"false"`
		EventStream     string        `env:"EVENT_STREAM"      envDefault:"workout:events"`
	}

	Results struct {
		TopN int `env:"RECAP_TOP_N" envDefault:"3"`
	}

	Log struct {
		Level  string `env:"LOG_LEVEL"  envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}
}

// Load reads an optional .env file, then the environment
func Load() (*Config, error) {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if !models.TelemetryMode(c.Telemetry.Mode).Valid() {
		return fmt.Errorf("%w: TELEMETRY_MODE %q", models.ErrInvalidInput, c.Telemetry.Mode)
	}
	if c.Telemetry.Mode == string(models.ModeLive) && c.Telemetry.BaseURL == "" {
		return fmt.Errorf("%w: TELEMETRY_BASE_URL is required in live mode", models.ErrInvalidInput)
	}
	if _, _, err := scoring.ParseCaloriePolicy(c.Telemetry.CaloriePolicy); err != nil {
		return err
	}
	if c.Telemetry.SampleWindow <= 0 {
		return fmt.Errorf("%w: SAMPLE_WINDOW must be positive", models.ErrInvalidInput)
	}
	if c.Telemetry.SimulatorInterval <= 0 || c.Telemetry.PollerInterval <= 0 {
		return fmt.Errorf("%w: telemetry intervals must be positive", models.ErrInvalidInput)
	}
	return nil
}
