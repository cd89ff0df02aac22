package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/curtaild/core/metrics"
	"github.com/kilianp07/curtaild/infra/logger"
)

// InfluxSink writes curtailment events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDecision writes each threshold decision as a point.
func (s *InfluxSink) RecordDecision(decisions []coremetrics.Decision) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, d := range decisions {
		p := write.NewPointWithMeasurement("curtailment_decision").
			AddTag("slot_start", d.SlotStart.UTC().Format(time.RFC3339)).
			AddTag("curtailed", strconv.FormatBool(d.Curtailed)).
			AddTag("component", "scheduler").
			AddField("price", d.Price).
			AddField("price_limit", d.Limit).
			SetTime(d.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordDispatchResult writes each per-site dispatch outcome.
func (s *InfluxSink) RecordDispatchResult(results []coremetrics.DispatchResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range results {
		p := write.NewPointWithMeasurement("curtailment_dispatch").
			AddTag("microgrid_id", strconv.Itoa(r.MicrogridID)).
			AddTag("slot_start", r.SlotStart.UTC().Format(time.RFC3339)).
			AddTag("succeeded", strconv.FormatBool(r.Succeeded)).
			AddTag("dry_run", strconv.FormatBool(r.DryRun)).
			AddTag("component", "scheduler").
			AddField("power_reduction_w", r.PowerW).
			AddField("errors", r.Error).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle persists the summary of a scheduling cycle.
func (s *InfluxSink) RecordCycle(stats coremetrics.CycleStats) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("curtailment_cycle").
		AddTag("no_data", strconv.FormatBool(stats.NoData)).
		AddTag("failed", strconv.FormatBool(stats.Failed)).
		AddTag("component", "scheduler").
		AddField("unresolved", stats.Unresolved).
		AddField("resolved_now", stats.ResolvedNow).
		AddField("fetch_attempts", stats.FetchAttempts).
		AddField("duration_ms", stats.Duration.Milliseconds()).
		SetTime(stats.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
