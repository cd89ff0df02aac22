// Package dispatch defines the sink interface used to deliver curtailment
// commands to managed microgrids.
package dispatch

import (
	"context"
	"time"
)

// TypeChargeCurtailment tags a dispatch as a charging-curtailment command.
const TypeChargeCurtailment = "SE_TRUCK_CHARGING"

// TargetGrid addresses the grid connection point of a microgrid.
const TargetGrid = "GRID"

// PayloadPowerReduction is the payload key carrying the curtailment amount.
const PayloadPowerReduction = "power_reduction_w"

// Request describes one curtailment command for one microgrid and slot.
type Request struct {
	MicrogridID int
	Type        string
	StartTime   time.Time
	Duration    time.Duration
	Target      string
	DryRun      bool
	Payload     map[string]float64
}

// Sink issues curtailment commands. Each call covers a single microgrid and
// is independent of other calls for the same slot; there is no batch
// transaction. Implementations must be safe for concurrent use because the
// scheduler fans out one call per microgrid.
type Sink interface {
	Send(ctx context.Context, req Request) error
}
