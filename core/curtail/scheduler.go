// Package curtail implements the timer-driven scheduler deciding, per
// day-ahead delivery slot, whether wholesale prices justify sending a
// charging-curtailment dispatch to the managed microgrids.
package curtail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/curtaild/core/contract"
	"github.com/kilianp07/curtaild/core/dispatch"
	"github.com/kilianp07/curtaild/core/events"
	"github.com/kilianp07/curtaild/core/logger"
	"github.com/kilianp07/curtaild/core/metrics"
	"github.com/kilianp07/curtaild/core/price"
	"github.com/kilianp07/curtaild/internal/eventbus"
)

// Scheduler drives the fetch-evaluate-dispatch cycle over the contract
// window. All state is in memory; a restart simply rebuilds the window on
// the first tick.
type Scheduler struct {
	cfg      Config
	slotFreq time.Duration
	window   *contract.Window
	source   price.Source
	sink     dispatch.Sink
	log      logger.Logger
	metrics  metrics.Sink
	bus      eventbus.EventBus
	dryRun   bool

	// sleep is swapped in tests to observe backoff timing.
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates the configuration and builds a Scheduler. Metrics sink and
// bus may be nil. The config check is the only fatal error path; once
// constructed the scheduler never terminates on runtime failures.
func New(cfg Config, source price.Source, sink dispatch.Sink, log logger.Logger, sinkM metrics.Sink, bus eventbus.EventBus, dryRun bool) (*Scheduler, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("curtail: nil price source or dispatch sink")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if sinkM == nil {
		sinkM = metrics.NopSink{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("curtail config: %w", err)
	}
	slotFreq, err := cfg.SlotFrequency()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:      cfg,
		slotFreq: slotFreq,
		window:   contract.NewWindow(slotFreq),
		source:   source,
		sink:     sink,
		log:      log,
		metrics:  sinkM,
		bus:      bus,
		dryRun:   dryRun,
		sleep:    sleepCtx,
	}, nil
}

// Run executes scheduling cycles on every tick until the context is
// canceled. time.Ticker drops ticks that fire while a cycle is still in
// backoff, so cycles never queue up; the config invariant additionally
// guarantees the retry sequence fits inside one period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("scheduler started: run frequency %s, slot frequency %s, %d microgrids",
		s.cfg.RunFrequency(), s.slotFreq, len(s.cfg.MicrogridIDs))
	ticker := time.NewTicker(s.cfg.RunFrequency())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.RunCycle(ctx, now)
		}
	}
}

// RunCycle performs one full scheduling cycle at the given time. Exported
// for the one-shot command.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) {
	began := time.Now()
	added, removed := s.window.Refresh(now)
	if len(added) > 0 || len(removed) > 0 {
		s.log.Infof("contracts updated: %d added, %d removed, %d tracked",
			len(added), len(removed), s.window.Len())
	}

	stats := metrics.CycleStats{Time: now}
	defer func() {
		stats.Duration = time.Since(began)
		if cr, ok := s.metrics.(metrics.CycleRecorder); ok {
			if err := cr.RecordCycle(stats); err != nil {
				s.log.Errorf("cycle metrics: %v", err)
			}
		}
		s.publish(events.CycleEvent{
			Unresolved: stats.Unresolved,
			Resolved:   stats.ResolvedNow,
			Attempts:   stats.FetchAttempts,
			NoData:     stats.NoData,
			Duration:   stats.Duration,
		})
	}()

	backoff := s.cfg.InitialBackoff()
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		unresolved := s.window.Unresolved()
		stats.Unresolved = len(unresolved)
		if len(unresolved) == 0 {
			s.log.Debugf("no unresolved contracts")
			return
		}

		start := unresolved[0].SlotStart
		end := unresolved[len(unresolved)-1].SlotStart.Add(s.slotFreq)
		s.log.Infof("fetching prices from %s to %s (%d contracts, attempt %d/%d)",
			start, end, len(unresolved), attempt, s.cfg.Retries)
		stats.FetchAttempts = attempt

		points, err := s.source.Fetch(ctx, start, end, s.cfg.CountryCode)
		s.publish(events.FetchAttemptEvent{Attempt: attempt, Start: start, End: end, Err: err})
		switch {
		case err == nil:
			stats.ResolvedNow = s.evaluate(ctx, price.NewSeries(points), unresolved)
			return
		case price.IsNoData(err):
			// Valid empty result: the contracts stay unresolved and are
			// retried on the next tick, not within this cycle.
			s.log.Infof("no day-ahead prices available for %s to %s", start, end)
			stats.NoData = true
			s.publish(events.NoDataEvent{Start: start, End: end})
			return
		default:
			s.log.Warnf("price fetch failed (attempt %d/%d): %v", attempt, s.cfg.Retries, err)
			if attempt < s.cfg.Retries {
				s.log.Infof("retrying in %s", backoff)
				if serr := s.sleep(ctx, backoff); serr != nil {
					return
				}
				backoff *= 2
			}
		}
	}
	stats.Failed = true
	s.log.Errorf("failed to process %d contracts after %d fetch attempts; deferring to next cycle",
		stats.Unresolved, s.cfg.Retries)
}

// evaluate applies the threshold decision to every unresolved contract with
// a matching price point and returns how many contracts were resolved.
// Contracts without a price point remain unresolved; contracts whose
// dispatch failed remain unresolved and are re-fetched on a later cycle.
func (s *Scheduler) evaluate(ctx context.Context, series price.Series, unresolved []contract.Contract) int {
	resolved := 0
	curtailed := 0
	decisions := make([]metrics.Decision, 0, len(unresolved))
	for _, c := range unresolved {
		p, ok := series.Lookup(c.SlotStart)
		if !ok {
			continue
		}
		above := p > s.cfg.PriceLimit
		if above && !s.dispatchAll(ctx, c.SlotStart, p) {
			continue
		}
		s.window.Resolve(c.SlotStart)
		resolved++
		if above {
			curtailed++
		}
		decisions = append(decisions, metrics.Decision{
			SlotStart: c.SlotStart,
			Price:     p,
			Limit:     s.cfg.PriceLimit,
			Curtailed: above,
			Time:      time.Now(),
		})
		s.publish(events.DecisionEvent{SlotStart: c.SlotStart, Price: p, Limit: s.cfg.PriceLimit, Curtailed: above})
	}
	if len(decisions) > 0 {
		if err := s.metrics.RecordDecision(decisions); err != nil {
			s.log.Errorf("decision metrics: %v", err)
		}
	}
	if curtailed > 0 {
		s.log.Infof("%d prices above limit %.2f, sent charge curtailment dispatches", curtailed, s.cfg.PriceLimit)
	}
	return resolved
}

// dispatchAll fans out one curtailment command per microgrid for the slot,
// concurrently. A failing site does not stop the others, but any failure
// makes the aggregate false so the contract stays unresolved.
func (s *Scheduler) dispatchAll(ctx context.Context, slot time.Time, priceValue float64) bool {
	s.log.Infof("sending charge curtailment dispatch for slot %s (price %.2f) to %d microgrids",
		slot, priceValue, len(s.cfg.MicrogridIDs))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failed  int
		results []metrics.DispatchResult
	)
	for _, id := range s.cfg.MicrogridIDs {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := s.sink.Send(ctx, dispatch.Request{
				MicrogridID: id,
				Type:        dispatch.TypeChargeCurtailment,
				StartTime:   slot,
				Duration:    s.slotFreq,
				Target:      dispatch.TargetGrid,
				DryRun:      s.dryRun,
				Payload:     map[string]float64{dispatch.PayloadPowerReduction: s.cfg.PowerReductionW},
			})
			mu.Lock()
			defer mu.Unlock()
			res := metrics.DispatchResult{
				MicrogridID: id,
				SlotStart:   slot,
				PowerW:      s.cfg.PowerReductionW,
				DryRun:      s.dryRun,
				Succeeded:   err == nil,
				Time:        time.Now(),
			}
			if err != nil {
				failed++
				res.Error = err.Error()
				s.log.Errorf("dispatch for microgrid %d at %s failed: %v", id, slot, err)
			} else {
				s.log.Debugf("dispatch for microgrid %d at %s sent", id, slot)
			}
			results = append(results, res)
			s.publish(events.DispatchEvent{MicrogridID: id, SlotStart: slot, Err: err})
		}(id)
	}
	wg.Wait()

	if dr, ok := s.metrics.(metrics.DispatchRecorder); ok {
		if err := dr.RecordDispatchResult(results); err != nil {
			s.log.Errorf("dispatch metrics: %v", err)
		}
	}
	return failed == 0
}

// Window exposes the contract window for inspection in tests and the
// one-shot command.
func (s *Scheduler) Window() *contract.Window { return s.window }

func (s *Scheduler) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
