package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/kilianp07/curtaild/core/metrics"
	"github.com/kilianp07/curtaild/infra/logger"
)

// PromSink records curtailment activity in Prometheus metrics.
type PromSink struct {
	decisions  *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	cycleTime  prometheus.Histogram
	unresolved prometheus.Gauge
}

// NewPromSink registers curtailment metrics on the default Prometheus
// registerer. The Prometheus server should be started separately with
// StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curtailment_decisions_total",
		Help: "Total number of per-slot threshold decisions",
	}, []string{"curtailed"})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curtailment_dispatches_total",
		Help: "Total number of dispatch requests sent per site",
	}, []string{"microgrid_id", "succeeded"})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curtailment_cycles_total",
		Help: "Total number of scheduling cycles by outcome",
	}, []string{"outcome"})
	cycleTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "curtailment_cycle_duration_seconds",
		Help:    "Wall time of a scheduling cycle including retries",
		Buckets: prometheus.DefBuckets,
	})
	unresolved := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curtailment_unresolved_contracts",
		Help: "Number of unresolved contracts in the rolling window",
	})

	if err := reg.Register(decisions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			decisions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(dispatches); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			dispatches = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(cycles); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			cycles = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(cycleTime); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			cycleTime = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(unresolved); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			unresolved = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		decisions:  decisions,
		dispatches: dispatches,
		cycles:     cycles,
		cycleTime:  cycleTime,
		unresolved: unresolved,
	}, nil
}

// RecordDecision increments the decision counter for each slot decision.
func (s *PromSink) RecordDecision(decisions []coremetrics.Decision) error {
	for _, d := range decisions {
		s.decisions.WithLabelValues(strconv.FormatBool(d.Curtailed)).Inc()
	}
	return nil
}

// RecordDispatchResult increments the dispatch counter for each site outcome.
func (s *PromSink) RecordDispatchResult(results []coremetrics.DispatchResult) error {
	for _, r := range results {
		s.dispatches.WithLabelValues(strconv.Itoa(r.MicrogridID), strconv.FormatBool(r.Succeeded)).Inc()
	}
	return nil
}

// RecordCycle records the cycle outcome and duration.
func (s *PromSink) RecordCycle(stats coremetrics.CycleStats) error {
	outcome := "ok"
	switch {
	case stats.Failed:
		outcome = "failed"
	case stats.NoData:
		outcome = "no_data"
	}
	s.cycles.WithLabelValues(outcome).Inc()
	s.cycleTime.Observe(stats.Duration.Seconds())
	s.unresolved.Set(float64(stats.Unresolved - stats.ResolvedNow))
	return nil
}

// StartPromServer exposes /metrics on the given port until ctx is done.
func StartPromServer(ctx context.Context, port int) error {
	log := logger.New("prom-server")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("prometheus server shutdown: %v", err)
		}
	}()
	log.Infof("serving Prometheus metrics on :%d", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
