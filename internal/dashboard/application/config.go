package application

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	measurement "speedboard/internal/measurement/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// DefaultUnitDivisor converts bytes-per-second style raw values (2^20).
	DefaultUnitDivisor = 1024 * 1024
)

// Config defines process configuration.
type Config struct {
	HTTPAddr string        `yaml:"http_addr"`
	Store    StoreConfig   `yaml:"store"`
	Gate     GateConfig    `yaml:"gate"`
	Refresh  RefreshConfig `yaml:"refresh"`
	Render   RenderConfig  `yaml:"render"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// StoreConfig locates the measurement store.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Directory       string        `yaml:"directory"`
	SourceSuffix    string        `yaml:"source_suffix"`
	ResultsTable    string        `yaml:"results_table"`
	StatusTable     string        `yaml:"status_table"`
	ControlDatabase string        `yaml:"control_database"`
	UnitDivisor     float64       `yaml:"unit_divisor"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// GateConfig selects the availability gate policy.
type GateConfig struct {
	Policy string `yaml:"policy"`
}

// RefreshConfig defines the cycle period.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RenderConfig defines artifact output.
type RenderConfig struct {
	ArtifactDir string `yaml:"artifact_dir"`
	URLPrefix   string `yaml:"url_prefix"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	DataExport  bool   `yaml:"data_export"`
	PDF         bool   `yaml:"pdf"`
}

// NotifyConfig defines the cycle failure webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// LoadConfig loads config from env, overlaid by the yaml file named in
// SPEEDBOARD_CONFIG.
func LoadConfig() (Config, error) {
	divisor, err := parseUnitDivisor(os.Getenv("UNIT_DIVISOR"))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr: getenvDefault("HTTP_ADDR", ":8080"),
		Store: StoreConfig{
			Driver:          getenvDefault("STORE_DRIVER", DriverPostgres),
			DSN:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
			Directory:       getenvDefault("STORE_DIRECTORY", "data"),
			SourceSuffix:    getenvDefault("SOURCE_SUFFIX", "_speedtest"),
			ResultsTable:    getenvDefault("RESULTS_TABLE", "speedtest_results"),
			StatusTable:     getenvDefault("STATUS_TABLE", "speedtest_status"),
			ControlDatabase: getenvDefault("CONTROL_DATABASE", "speedtest_control"),
			UnitDivisor:     divisor,
			ConnectTimeout:  getenvDuration("STORE_CONNECT_TIMEOUT", 10*time.Second),
			QueryTimeout:    getenvDuration("STORE_QUERY_TIMEOUT", 30*time.Second),
		},
		Gate: GateConfig{
			Policy: getenvDefault("GATE_POLICY", string(measurement.GatePolicyGlobal)),
		},
		Refresh: RefreshConfig{
			Interval: getenvDuration("REFRESH_INTERVAL", DefaultInterval),
		},
		Render: RenderConfig{
			ArtifactDir: getenvDefault("ARTIFACT_DIR", filepath.FromSlash("static/images")),
			URLPrefix:   getenvDefault("ARTIFACT_URL_PREFIX", "/images/"),
			Width:       getenvIntDefault("RENDER_WIDTH", 1000),
			Height:      getenvIntDefault("RENDER_HEIGHT", 600),
			DataExport:  getenvBoolDefault("RENDER_DATA_EXPORT", true),
			PDF:         getenvBoolDefault("RENDER_PDF", false),
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		},
	}

	if path := os.Getenv("SPEEDBOARD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.Directory == "" {
			return errors.New("config: store directory is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if !(c.Store.UnitDivisor > 0) || math.IsInf(c.Store.UnitDivisor, 1) {
		return measurement.ErrInvalidDivisor
	}
	if _, err := measurement.ParseGatePolicy(c.Gate.Policy); err != nil {
		return err
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("config: refresh interval must be > 0")
	}
	if c.Render.ArtifactDir == "" {
		return errors.New("config: artifact dir required")
	}
	if strings.Trim(c.Render.URLPrefix, "/") == "" {
		return errors.New("config: artifact url prefix must not be the root path")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return errors.New("config: render width and height must be > 0")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// parseUnitDivisor rejects malformed values instead of falling back.
func parseUnitDivisor(value string) (float64, error) {
	if value == "" {
		return DefaultUnitDivisor, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("config: UNIT_DIVISOR %q: %w", value, err)
	}
	return parsed, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
