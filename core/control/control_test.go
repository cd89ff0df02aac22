package control

import "testing"

func f(v float64) *float64 { return &v }

func TestStepDischargesBatteryAboveTarget(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	sp := l.Step(Measurements{GridPowerW: 30000, BatteryPowerW: f(1000), BatterySoC: f(0.5)})
	if sp.Action != ActionDischargeBattery {
		t.Fatalf("action %v", sp.Action)
	}
	// Overshoot 5kW plus the 1kW the battery currently draws.
	if sp.BatteryPowerW != -6000 {
		t.Fatalf("battery setpoint %v", sp.BatteryPowerW)
	}
	if sp.ChargerBoundW != 6000 {
		t.Fatalf("charger bound %v", sp.ChargerBoundW)
	}
}

func TestStepRestrictsChargersWhenBatteryDepleted(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	sp := l.Step(Measurements{GridPowerW: 30000, BatteryPowerW: f(0), BatterySoC: f(0.05)})
	if sp.Action != ActionRestrictChargers {
		t.Fatalf("action %v", sp.Action)
	}
	if sp.ChargerBoundW != 5000 {
		t.Fatalf("charger bound %v", sp.ChargerBoundW)
	}
}

func TestStepRestrictsChargersWithoutBatteryData(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	sp := l.Step(Measurements{GridPowerW: 26000})
	if sp.Action != ActionRestrictChargers {
		t.Fatalf("missing battery data must fall back to charger restriction")
	}
}

func TestStepChargesBatteryOnExport(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	sp := l.Step(Measurements{GridPowerW: -5000, BatteryPowerW: f(0)})
	if sp.Action != ActionChargeBattery {
		t.Fatalf("action %v", sp.Action)
	}
	if sp.BatteryPowerW != 5000 {
		t.Fatalf("battery setpoint %v", sp.BatteryPowerW)
	}
}

func TestStepExportWithoutBatteryData(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	if sp := l.Step(Measurements{GridPowerW: -5000}); sp.Action != ActionNone {
		t.Fatalf("no action possible without battery data, got %v", sp.Action)
	}
}

func TestStepNoActionInBand(t *testing.T) {
	l := Logic{TargetPowerW: 25000, MinSoC: 0.1}
	if sp := l.Step(Measurements{GridPowerW: 20000}); sp.Action != ActionNone {
		t.Fatalf("no action expected, got %v", sp.Action)
	}
}
