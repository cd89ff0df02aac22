// Package dispatchapi implements the dispatch sink against the fleet
// dispatch HTTP API.
package dispatchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/kilianp07/curtaild/core/dispatch"
	"github.com/kilianp07/curtaild/infra/logger"
)

// Config defines the connection and authentication parameters.
type Config struct {
	ServerURL string `json:"server_url"`
	// AuthKey is a static bearer token. Ignored when client credentials
	// are configured.
	AuthKey string `json:"auth_key"`
	// OAuth2 client-credentials flow.
	TokenURL       string `json:"token_url"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("dispatch server_url is required")
	}
	if c.AuthKey == "" && (c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "") {
		return fmt.Errorf("dispatch auth requires auth_key or token_url/client_id/client_secret")
	}
	return nil
}

// Client sends curtailment commands over HTTP. It implements dispatch.Sink.
type Client struct {
	base    string
	authKey string
	http    *http.Client
	log     logger.Logger
}

// NewClient builds a Client. When client credentials are configured the
// HTTP client handles token retrieval and refresh transparently.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}
	authKey := cfg.AuthKey
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = timeout
		authKey = ""
	}
	return &Client{
		base:    strings.TrimSuffix(cfg.ServerURL, "/"),
		authKey: authKey,
		http:    httpClient,
		log:     logger.New("dispatch-api"),
	}, nil
}

// createPayload is the wire format of a dispatch creation call.
type createPayload struct {
	MicrogridID     int                `json:"microgrid_id"`
	Type            string             `json:"type"`
	StartTime       time.Time          `json:"start_time"`
	DurationSeconds int                `json:"duration_seconds"`
	Target          string             `json:"target"`
	DryRun          bool               `json:"dry_run"`
	Payload         map[string]float64 `json:"payload"`
}

// Send issues one curtailment command. Safe for concurrent use.
func (c *Client) Send(ctx context.Context, req dispatch.Request) error {
	body, err := json.Marshal(createPayload{
		MicrogridID:     req.MicrogridID,
		Type:            req.Type,
		StartTime:       req.StartTime,
		DurationSeconds: int(req.Duration.Seconds()),
		Target:          req.Target,
		DryRun:          req.DryRun,
		Payload:         req.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode dispatch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/dispatches", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dispatch rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.log.Debugf("dispatch created for microgrid %d at %s", req.MicrogridID, req.StartTime)
	return nil
}
