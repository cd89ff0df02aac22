// Package control implements the local charging control arithmetic: keeping
// the grid connection at or below a target power by discharging the site
// battery and throttling the EV chargers.
package control

import "time"

// Measurements is the latest telemetry snapshot the logic acts on. Power
// values are in watts, positive for consumption from the grid. Pointer
// fields may be nil when the stream has not delivered a sample yet.
type Measurements struct {
	GridPowerW    float64
	BatteryPowerW *float64
	BatterySoC    *float64 // fraction in [0,1]
	Time          time.Time
}

// Action tells the caller what to do with the computed setpoints.
type Action int

const (
	// ActionNone means no control action is needed.
	ActionNone Action = iota
	// ActionDischargeBattery discharges the battery and restricts chargers.
	ActionDischargeBattery
	// ActionRestrictChargers throttles the EV chargers only.
	ActionRestrictChargers
	// ActionChargeBattery absorbs exported excess power into the battery.
	ActionChargeBattery
)

// Setpoints is the output of one control step.
type Setpoints struct {
	Action Action
	// BatteryPowerW is the proposed battery power (positive charges).
	BatteryPowerW float64
	// ChargerBoundW is the proposed upper bound for EV charger power.
	ChargerBoundW float64
}

// Logic holds the control parameters.
type Logic struct {
	// TargetPowerW is the maximum wanted grid consumption.
	TargetPowerW float64
	// MinSoC is the battery state of charge below which the battery no
	// longer compensates, as a fraction.
	MinSoC float64
}

// Step computes the setpoints for one telemetry sample. It runs whenever a
// new grid power measurement arrives.
func (l Logic) Step(m Measurements) Setpoints {
	if m.GridPowerW > l.TargetPowerW {
		if m.BatterySoC != nil && m.BatteryPowerW != nil && *m.BatterySoC > l.MinSoC {
			// Battery still has headroom: discharge it to cover the
			// overshoot and cap the chargers at the remainder.
			residual := (m.GridPowerW + *m.BatteryPowerW) - l.TargetPowerW
			return Setpoints{
				Action:        ActionDischargeBattery,
				BatteryPowerW: -residual,
				ChargerBoundW: residual,
			}
		}
		// Battery depleted or unknown: throttle chargers only.
		return Setpoints{
			Action:        ActionRestrictChargers,
			ChargerBoundW: m.GridPowerW - l.TargetPowerW,
		}
	}
	if m.GridPowerW < 0 {
		// Site is exporting; soak up the excess with the battery.
		if m.BatteryPowerW == nil {
			return Setpoints{Action: ActionNone}
		}
		return Setpoints{
			Action:        ActionChargeBattery,
			BatteryPowerW: -(m.GridPowerW + *m.BatteryPowerW),
		}
	}
	return Setpoints{Action: ActionNone}
}
