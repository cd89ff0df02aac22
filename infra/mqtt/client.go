// Package mqtt implements the dispatch sink over MQTT for sites controlled
// through a broker instead of the dispatch API.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/curtaild/core/dispatch"
	"github.com/kilianp07/curtaild/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	// CommandTopic is the per-site topic pattern; %d receives the
	// microgrid id.
	CommandTopic   string      `json:"command_topic"`
	QoS            byte        `json:"qos"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	TLSConfig      *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.CommandTopic == "" {
		c.CommandTopic = "microgrid/%d/curtailment"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoSink implements dispatch.Sink using Eclipse Paho.
type PahoSink struct {
	cli     pahoClient
	cfg     Config
	timeout time.Duration
	log     logger.Logger
}

// NewPahoSink connects to the MQTT broker.
func NewPahoSink(cfg Config) (*PahoSink, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt-sink")
	opts.OnConnect = func(_ paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &PahoSink{
		cli:     c,
		cfg:     cfg,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		log:     log,
	}, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// order is the wire format of a curtailment command on the broker.
type order struct {
	CommandID       string             `json:"command_id"`
	MicrogridID     int                `json:"microgrid_id"`
	Type            string             `json:"type"`
	StartTime       time.Time          `json:"start_time"`
	DurationSeconds int                `json:"duration_seconds"`
	Target          string             `json:"target"`
	DryRun          bool               `json:"dry_run"`
	Payload         map[string]float64 `json:"payload"`
}

// Send publishes the curtailment command on the site topic.
func (s *PahoSink) Send(_ context.Context, req dispatch.Request) error {
	cmdID := uuid.NewString()
	payload, err := json.Marshal(order{
		CommandID:       cmdID,
		MicrogridID:     req.MicrogridID,
		Type:            req.Type,
		StartTime:       req.StartTime,
		DurationSeconds: int(req.Duration.Seconds()),
		Target:          req.Target,
		DryRun:          req.DryRun,
		Payload:         req.Payload,
	})
	if err != nil {
		return err
	}

	topic := fmt.Sprintf(s.cfg.CommandTopic, req.MicrogridID)
	token := s.cli.Publish(topic, s.cfg.QoS, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.log.Infof("sent curtailment order %s to %s", cmdID, topic)
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (s *PahoSink) Disconnect() {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}
