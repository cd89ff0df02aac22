// Package market implements the day-ahead price source against the ENTSO-E
// transparency platform REST API.
package market

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/curtaild/core/price"
	"github.com/kilianp07/curtaild/infra/logger"
)

// Config defines the connection parameters for the ENTSO-E client.
type Config struct {
	// APIURL overrides the transparency platform endpoint, mainly for tests.
	APIURL string `json:"api_url"`
	// SecurityToken authenticates requests. Usually injected via the
	// CURTAILD_MARKET__SECURITY_TOKEN environment override.
	SecurityToken  string `json:"security_token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.APIURL == "" {
		c.APIURL = "https://web-api.tp.entsoe.eu/api"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.SecurityToken == "" {
		return fmt.Errorf("market security_token is required")
	}
	return nil
}

// bidding zone EIC codes for the supported market areas
var areaCodes = map[string]string{
	"DE_LU":    "10Y1001A1001A82H",
	"DE_AT_LU": "10Y1001A1001A63L",
	"FR":       "10YFR-RTE------C",
	"NL":       "10YNL----------L",
	"BE":       "10YBE----------2",
	"AT":       "10YAT-APG------L",
	"CH":       "10YCH-SWISSGRIDZ",
	"DK_1":     "10YDK-1--------W",
	"PL":       "10YPL-AREA-----S",
}

// Client fetches day-ahead prices. After an unexpected failure the
// underlying HTTP client is discarded and rebuilt before the error is
// returned, so retries start from a clean connection state.
type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg Config) *Client {
	cfg.SetDefaults()
	return &Client{
		cfg:  cfg,
		http: newHTTPClient(cfg),
		log:  logger.New("entsoe-client"),
	}
}

func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
}

// Fetch retrieves the day-ahead prices for the given range and area.
// It returns price.ErrNoData when the venue has no points in range and
// wraps connectivity failures in price.TransientError.
func (c *Client) Fetch(ctx context.Context, start, end time.Time, area string) ([]price.Point, error) {
	zone, ok := areaCodes[strings.ToUpper(area)]
	if !ok {
		// Allow raw EIC codes for areas missing from the map.
		zone = area
	}

	q := url.Values{}
	q.Set("securityToken", c.cfg.SecurityToken)
	q.Set("documentType", "A44")
	q.Set("in_Domain", zone)
	q.Set("out_Domain", zone)
	q.Set("periodStart", start.UTC().Format(periodFormat))
	q.Set("periodEnd", end.UTC().Format(periodFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.reset()
		return nil, price.Transient(fmt.Errorf("query day-ahead prices: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.reset()
		return nil, price.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decoding
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		c.reset()
		return nil, price.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, trim(body)))
	default:
		// 400 with a no-data acknowledgement is a valid empty result.
		if reason, ok := decodeAcknowledgement(body); ok {
			if isNoData(reason) {
				return nil, price.ErrNoData
			}
			c.reset()
			return nil, fmt.Errorf("request rejected: %s", reason.Text)
		}
		c.reset()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, trim(body))
	}

	if reason, ok := decodeAcknowledgement(body); ok {
		if isNoData(reason) {
			return nil, price.ErrNoData
		}
		c.reset()
		return nil, fmt.Errorf("request rejected: %s", reason.Text)
	}

	points, err := decodePublication(body)
	if err != nil {
		c.reset()
		return nil, fmt.Errorf("decode publication: %w", err)
	}
	if len(points) == 0 {
		return nil, price.ErrNoData
	}
	return points, nil
}

// reset rebuilds the HTTP client. Certain failures leave pooled connections
// in a bad state; the replacement is invisible to the caller's retry loop.
func (c *Client) reset() {
	c.log.Warnf("resetting ENTSO-E client after error")
	c.http.CloseIdleConnections()
	c.http = newHTTPClient(c.cfg)
}

func trim(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

const periodFormat = "200601021504"

// noMatchingDataCode is the acknowledgement reason the platform returns for
// an empty range.
const noMatchingDataCode = "999"

type ackReason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

type acknowledgementDoc struct {
	XMLName xml.Name    `xml:"Acknowledgement_MarketDocument"`
	Reasons []ackReason `xml:"Reason"`
}

func decodeAcknowledgement(body []byte) (ackReason, bool) {
	var doc acknowledgementDoc
	if err := xml.Unmarshal(body, &doc); err != nil || len(doc.Reasons) == 0 {
		return ackReason{}, false
	}
	return doc.Reasons[0], true
}

func isNoData(r ackReason) bool {
	return r.Code == noMatchingDataCode || strings.Contains(strings.ToLower(r.Text), "no matching data")
}

type publicationDoc struct {
	XMLName    xml.Name `xml:"Publication_MarketDocument"`
	TimeSeries []struct {
		Period []struct {
			TimeInterval struct {
				Start string `xml:"start"`
			} `xml:"timeInterval"`
			Resolution string `xml:"resolution"`
			Points     []struct {
				Position int     `xml:"position"`
				Amount   float64 `xml:"price.amount"`
			} `xml:"Point"`
		} `xml:"Period"`
	} `xml:"TimeSeries"`
}

func decodePublication(body []byte) ([]price.Point, error) {
	var doc publicationDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	var out []price.Point
	for _, ts := range doc.TimeSeries {
		for _, period := range ts.Period {
			start, err := parseInterval(period.TimeInterval.Start)
			if err != nil {
				return nil, fmt.Errorf("period start: %w", err)
			}
			res, err := parseResolution(period.Resolution)
			if err != nil {
				return nil, err
			}
			for _, pt := range period.Points {
				if pt.Position < 1 {
					return nil, fmt.Errorf("invalid point position %d", pt.Position)
				}
				out = append(out, price.Point{
					SlotStart: start.Add(time.Duration(pt.Position-1) * res),
					Price:     pt.Amount,
				})
			}
		}
	}
	return out, nil
}

func parseInterval(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04Z", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time interval %q", s)
}

func parseResolution(s string) (time.Duration, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PT15M":
		return 15 * time.Minute, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT60M", "PT1H":
		return time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
}
