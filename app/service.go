// Package app wires the configured connectors into a running service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/curtaild/config"
	"github.com/kilianp07/curtaild/core/curtail"
	"github.com/kilianp07/curtaild/core/dispatch"
	"github.com/kilianp07/curtaild/core/events"
	coremetrics "github.com/kilianp07/curtaild/core/metrics"
	"github.com/kilianp07/curtaild/infra/dispatchapi"
	"github.com/kilianp07/curtaild/infra/logger"
	"github.com/kilianp07/curtaild/infra/market"
	"github.com/kilianp07/curtaild/infra/metrics"
	"github.com/kilianp07/curtaild/infra/mqtt"
	"github.com/kilianp07/curtaild/internal/eventbus"
)

// Service orchestrates the curtailment scheduler and its connectors.
type Service struct {
	Scheduler *curtail.Scheduler
	bus       eventbus.EventBus
	log       logger.Logger
	cfg       *config.Config
	mqttSink  *mqtt.PahoSink
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	source := market.NewClient(cfg.Market)

	var (
		sink     dispatch.Sink
		mqttSink *mqtt.PahoSink
		err      error
	)
	switch cfg.Dispatch.Mode {
	case config.DispatchModeAPI:
		sink, err = dispatchapi.NewClient(cfg.Dispatch.API)
		if err != nil {
			return nil, fmt.Errorf("dispatch api client: %w", err)
		}
	case config.DispatchModeMQTT:
		mqttSink, err = mqtt.NewPahoSink(cfg.Dispatch.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		sink = mqttSink
	case config.DispatchModeMock:
		sink = mqtt.NewMockSink()
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		promSink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, promSink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sinkM coremetrics.Sink
	switch len(sinks) {
	case 0:
		sinkM = coremetrics.NopSink{}
	case 1:
		sinkM = sinks[0]
	default:
		sinkM = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	sched, err := curtail.New(cfg.Curtail, source, sink, logg, sinkM, bus, cfg.App.DryRun)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	return &Service{Scheduler: sched, bus: bus, log: logg, cfg: cfg, mqttSink: mqttSink}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if start, ok, err := s.cfg.App.StartAt(); err != nil {
		return err
	} else if ok {
		if wait := time.Until(start); wait > 0 {
			s.log.Infof("delaying first cycle until %s", start.Format(time.RFC3339))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.logEvents(ctx)

	return s.Scheduler.Run(ctx)
}

// logEvents drains the bus so cycle activity shows up in the service log
// even when no metrics sink is configured.
func (s *Service) logEvents(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case events.NoDataEvent:
				s.log.Warnf("no day-ahead data published yet for %s", ev.Start.Format(time.RFC3339))
			case events.CycleEvent:
				s.log.Infof("cycle done: %d unresolved, %d resolved, %d fetch attempts",
					ev.Unresolved, ev.Resolved, ev.Attempts)
			}
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.mqttSink != nil {
		s.mqttSink.Disconnect()
	}
	s.bus.Close()
	return nil
}
