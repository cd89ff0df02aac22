package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/curtaild/core/control"
	"github.com/kilianp07/curtaild/infra/logger"
)

// InfluxReporter persists site power measurements to InfluxDB.
type InfluxReporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxReporter creates a reporter for the given InfluxDB endpoint.
func NewInfluxReporter(url, token, org, bucket string) *InfluxReporter {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxReporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("telemetry-influx"),
	}
}

// Report writes one power_metrics point per measurement.
func (r *InfluxReporter) Report(microgridID int, m control.Measurements) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("power_metrics").
		AddTag("microgrid_id", strconv.Itoa(microgridID)).
		AddTag("component", "telemetry").
		AddField("grid_power_w", m.GridPowerW).
		SetTime(m.Time)
	if m.BatteryPowerW != nil {
		p.AddField("battery_power_w", *m.BatteryPowerW)
	}
	if m.BatterySoC != nil {
		p.AddField("battery_soc", *m.BatterySoC)
	}
	return r.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (r *InfluxReporter) Close() {
	r.client.Close()
}
