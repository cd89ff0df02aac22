// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/curtaild/core/curtail"
	"github.com/kilianp07/curtaild/infra/dispatchapi"
	"github.com/kilianp07/curtaild/infra/market"
	"github.com/kilianp07/curtaild/infra/mqtt"
	"github.com/kilianp07/curtaild/infra/telemetry"
)

// Dispatch sink modes.
const (
	DispatchModeAPI  = "api"
	DispatchModeMQTT = "mqtt"
	DispatchModeMock = "mock"
)

// AppConfig holds service wide options.
type AppConfig struct {
	// StartTime optionally delays the first cycle until the given RFC3339
	// instant. Empty means start immediately.
	StartTime string `json:"start_time"`
	DryRun    bool   `json:"dry_run"`
}

// StartAt parses StartTime. ok is false when no delayed start is configured.
func (a AppConfig) StartAt() (t time.Time, ok bool, err error) {
	if a.StartTime == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, a.StartTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("app.start_time: %w", err)
	}
	return t, true, nil
}

// DispatchConfig selects and configures the dispatch sink.
type DispatchConfig struct {
	Mode string             `json:"mode"`
	API  dispatchapi.Config `json:"api"`
	MQTT mqtt.Config        `json:"mqtt"`
}

// MetricsConfig enables the optional metrics sinks.
type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    int    `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// ControlConfig parameterizes the local peak-shaving control loop.
type ControlConfig struct {
	TargetPowerW    float64 `json:"target_power_w"`
	MinSoC          float64 `json:"min_soc"`
	IntervalSeconds int     `json:"interval_seconds"`
	// SetpointTopic is the per-site topic pattern for control setpoints;
	// %d receives the microgrid id.
	SetpointTopic string `json:"setpoint_topic"`
}

// Config is the root configuration of the service.
type Config struct {
	App       AppConfig        `json:"app"`
	Curtail   curtail.Config   `json:"curtail"`
	Market    market.Config    `json:"market"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Metrics   MetricsConfig    `json:"metrics"`
	Control   ControlConfig    `json:"control"`
	Telemetry telemetry.Config `json:"telemetry"`
}

// Load reads the configuration file, applies CURTAILD_* environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. CURTAILD_MARKET__SECURITY_TOKEN.
	// The callback rewrites __ to the koanf path delimiter, so the provider
	// must split on "." for the keys to merge into the nested map.
	if err := k.Load(env.Provider("CURTAILD_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "curtaild_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Curtail.SetDefaults()
	c.Market.SetDefaults()
	c.Dispatch.MQTT.SetDefaults()
	c.Telemetry.SetDefaults()
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchModeAPI
	}
	if c.Metrics.PrometheusPort == 0 {
		c.Metrics.PrometheusPort = 2112
	}
	if c.Control.IntervalSeconds <= 0 {
		c.Control.IntervalSeconds = 10
	}
	if c.Control.SetpointTopic == "" {
		c.Control.SetpointTopic = "microgrid/%d/setpoints"
	}
}

// Validate checks the whole configuration. Scheduler invariants are fatal
// here rather than at runtime.
func (c *Config) Validate() error {
	if err := c.Curtail.Validate(); err != nil {
		return err
	}
	if err := c.Market.Validate(); err != nil {
		return err
	}
	if _, _, err := c.App.StartAt(); err != nil {
		return err
	}
	switch c.Dispatch.Mode {
	case DispatchModeAPI:
		if err := c.Dispatch.API.Validate(); err != nil {
			return err
		}
	case DispatchModeMQTT:
		if c.Dispatch.MQTT.Broker == "" {
			return fmt.Errorf("dispatch.mqtt.broker is required in mqtt mode")
		}
	case DispatchModeMock:
	default:
		return fmt.Errorf("dispatch.mode must be one of api, mqtt, mock")
	}
	if c.Metrics.InfluxEnabled && c.Metrics.InfluxURL == "" {
		return fmt.Errorf("metrics.influx_url is required when influx is enabled")
	}
	return nil
}
