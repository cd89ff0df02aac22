// Package telemetry collects site power measurements over MQTT and makes the
// latest snapshot per microgrid available to the control loop.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/curtaild/core/control"
	"github.com/kilianp07/curtaild/infra/logger"
	infmqtt "github.com/kilianp07/curtaild/infra/mqtt"
)

// Config holds the telemetry subscription parameters.
type Config struct {
	// StatePrefix is the topic prefix under which sites publish their
	// measurements; the full topic is <prefix>/<microgrid_id>/measurements.
	StatePrefix string `json:"state_prefix"`
	// StaleAfterSeconds bounds the age of a snapshot returned by Latest.
	StaleAfterSeconds int `json:"stale_after_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.StatePrefix == "" {
		c.StatePrefix = "microgrid"
	}
	if c.StaleAfterSeconds <= 0 {
		c.StaleAfterSeconds = 60
	}
}

// measurement is the wire format published by sites.
type measurement struct {
	GridPowerW    float64  `json:"grid_power_w"`
	BatteryPowerW *float64 `json:"battery_power_w"`
	BatterySoC    *float64 `json:"battery_soc"`
	Timestamp     int64    `json:"timestamp"`
}

// Reporter receives every decoded measurement, e.g. for persistence.
type Reporter interface {
	Report(microgridID int, m control.Measurements) error
}

// Manager subscribes to site measurement topics and keeps the latest
// snapshot per microgrid.
type Manager struct {
	cfg      Config
	cli      paho.Client
	log      logger.Logger
	reporter Reporter

	mu     sync.RWMutex
	latest map[int]control.Measurements
}

// NewManager connects to MQTT and prepares telemetry collection. The reporter
// may be nil.
func NewManager(mqttCfg infmqtt.Config, cfg Config, reporter Reporter) (*Manager, error) {
	cfg.SetDefaults()
	opts, err := infmqtt.NewClientOptions(mqttCfg)
	if err != nil {
		return nil, err
	}
	id := mqttCfg.ClientID
	if id != "" {
		id += "-telemetry"
	} else {
		id = "telemetry-" + uuid.NewString()
	}
	opts.SetClientID(id)
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Manager{
		cfg:      cfg,
		cli:      cli,
		log:      logger.New("telemetry"),
		reporter: reporter,
		latest:   make(map[int]control.Measurements),
	}, nil
}

// Start subscribes and runs until the context is done.
func (m *Manager) Start(ctx context.Context) {
	topic := strings.TrimSuffix(m.cfg.StatePrefix, "/") + "/+/measurements"
	if token := m.cli.Subscribe(topic, 0, m.onMeasurement); token.Wait() && token.Error() != nil {
		m.log.Errorf("subscribe %s: %v", topic, token.Error())
	}
	<-ctx.Done()
	if m.cli.IsConnected() {
		m.cli.Disconnect(250)
	}
}

func (m *Manager) onMeasurement(_ paho.Client, msg paho.Message) {
	id, err := extractID(msg.Topic())
	if err != nil {
		m.log.Errorf("measurement topic %s: %v", msg.Topic(), err)
		return
	}
	meas, err := decode(msg.Payload())
	if err != nil {
		m.log.Errorf("measurement decode: %v", err)
		return
	}
	m.mu.Lock()
	m.latest[id] = meas
	m.mu.Unlock()
	if m.reporter != nil {
		if err := m.reporter.Report(id, meas); err != nil {
			m.log.Errorf("report measurement: %v", err)
		}
	}
}

func decode(payload []byte) (control.Measurements, error) {
	var raw measurement
	if err := json.Unmarshal(payload, &raw); err != nil {
		return control.Measurements{}, err
	}
	ts := time.Now()
	if raw.Timestamp > 0 {
		ts = time.Unix(raw.Timestamp, 0)
	}
	return control.Measurements{
		GridPowerW:    raw.GridPowerW,
		BatteryPowerW: raw.BatteryPowerW,
		BatterySoC:    raw.BatterySoC,
		Time:          ts,
	}, nil
}

func extractID(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("unexpected topic shape")
	}
	return strconv.Atoi(parts[len(parts)-2])
}

// Latest returns the most recent snapshot for the microgrid, if it is not
// older than the configured staleness bound.
func (m *Manager) Latest(microgridID int) (control.Measurements, bool) {
	m.mu.RLock()
	meas, ok := m.latest[microgridID]
	m.mu.RUnlock()
	if !ok {
		return control.Measurements{}, false
	}
	if time.Since(meas.Time) > time.Duration(m.cfg.StaleAfterSeconds)*time.Second {
		return control.Measurements{}, false
	}
	return meas, true
}
