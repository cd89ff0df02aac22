package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/curtaild/core/price"
)

const publicationXML = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:0">
  <TimeSeries>
    <Period>
      <timeInterval>
        <start>2024-01-01T12:00Z</start>
        <end>2024-01-01T13:00Z</end>
      </timeInterval>
      <resolution>PT15M</resolution>
      <Point><position>1</position><price.amount>150.0</price.amount></Point>
      <Point><position>2</position><price.amount>50.0</price.amount></Point>
      <Point><position>4</position><price.amount>42.5</price.amount></Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

const noDataXML = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-1:acknowledgementdocument:8:1">
  <Reason>
    <code>999</code>
    <text>No matching data found for Data item Day-ahead Prices [12.1.D]</text>
  </Reason>
</Acknowledgement_MarketDocument>`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIURL: srv.URL, SecurityToken: "token", TimeoutSeconds: 2})
}

func TestFetchDecodesPublication(t *testing.T) {
	var gotQuery map[string][]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(publicationXML))
	})

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	points, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, start, points[0].SlotStart)
	assert.Equal(t, 150.0, points[0].Price)
	assert.Equal(t, start.Add(15*time.Minute), points[1].SlotStart)
	// Sparse positions map to their own offsets.
	assert.Equal(t, start.Add(45*time.Minute), points[2].SlotStart)
	assert.Equal(t, 42.5, points[2].Price)

	assert.Equal(t, "A44", gotQuery["documentType"][0])
	assert.Equal(t, "10Y1001A1001A82H", gotQuery["in_Domain"][0])
	assert.Equal(t, "token", gotQuery["securityToken"][0])
	assert.Equal(t, "202401011200", gotQuery["periodStart"][0])
}

func TestFetchNoData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(noDataXML))
	})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	assert.ErrorIs(t, err, price.ErrNoData)
}

func TestFetchNoDataWithOKStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(noDataXML))
	})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	assert.ErrorIs(t, err, price.ErrNoData)
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	var te *price.TransientError
	assert.True(t, errors.As(err, &te), "5xx must be transient, got %v", err)
}

func TestFetchConnectionErrorResetsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := NewClient(Config{APIURL: srv.URL, SecurityToken: "token", TimeoutSeconds: 1})

	before := c.http
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	var te *price.TransientError
	require.True(t, errors.As(err, &te))
	assert.NotSame(t, before, c.http, "client must be rebuilt after a connection failure")
}

func TestFetchRejectedRequest(t *testing.T) {
	rejected := `<?xml version="1.0"?><Acknowledgement_MarketDocument><Reason><code>401</code><text>Unauthorized</text></Reason></Acknowledgement_MarketDocument>`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(rejected))
	})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	require.Error(t, err)
	assert.False(t, price.IsNoData(err))
}

func TestFetchEmptyPublicationIsNoData(t *testing.T) {
	empty := `<?xml version="1.0"?><Publication_MarketDocument></Publication_MarketDocument>`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(empty))
	})
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), start, start.Add(time.Hour), "DE_LU")
	assert.ErrorIs(t, err, price.ErrNoData)
}

func TestParseResolution(t *testing.T) {
	cases := map[string]time.Duration{
		"PT15M": 15 * time.Minute,
		"PT30M": 30 * time.Minute,
		"PT60M": time.Hour,
		"pt1h":  time.Hour,
	}
	for in, want := range cases {
		got, err := parseResolution(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseResolution("P1D")
	assert.Error(t, err)
}
