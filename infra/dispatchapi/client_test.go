package dispatchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/curtaild/core/dispatch"
)

func TestSendPostsDispatch(t *testing.T) {
	var got createPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/dispatches", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(Config{ServerURL: srv.URL, AuthKey: "key"})
	require.NoError(t, err)

	slot := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err = c.Send(context.Background(), dispatch.Request{
		MicrogridID: 7,
		Type:        dispatch.TypeChargeCurtailment,
		StartTime:   slot,
		Duration:    15 * time.Minute,
		Target:      dispatch.TargetGrid,
		DryRun:      true,
		Payload:     map[string]float64{dispatch.PayloadPowerReduction: 5000},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, 7, got.MicrogridID)
	assert.Equal(t, dispatch.TypeChargeCurtailment, got.Type)
	assert.True(t, got.StartTime.Equal(slot))
	assert.Equal(t, 900, got.DurationSeconds)
	assert.True(t, got.DryRun)
	assert.Equal(t, 5000.0, got.Payload[dispatch.PayloadPowerReduction])
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "microgrid unknown", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{ServerURL: srv.URL, AuthKey: "key"})
	require.NoError(t, err)

	err = c.Send(context.Background(), dispatch.Request{MicrogridID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
	_, err = NewClient(Config{ServerURL: "http://api"})
	assert.Error(t, err, "missing credentials must be rejected")
	_, err = NewClient(Config{ServerURL: "http://api", ClientID: "id", ClientSecret: "s", TokenURL: "http://token"})
	assert.NoError(t, err)
}
