package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/kilianp07/curtaild/config"
	"github.com/kilianp07/curtaild/core/control"
	"github.com/kilianp07/curtaild/infra/logger"
	infmqtt "github.com/kilianp07/curtaild/infra/mqtt"
	"github.com/kilianp07/curtaild/infra/telemetry"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Run the local peak-shaving control loop",
	RunE:  runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// setpointMessage is the wire format of the setpoints published to sites.
type setpointMessage struct {
	Action        string  `json:"action"`
	BatteryPowerW float64 `json:"battery_power_w"`
	ChargerBoundW float64 `json:"charger_bound_w"`
	Timestamp     int64   `json:"timestamp"`
}

func actionString(a control.Action) string {
	switch a {
	case control.ActionDischargeBattery:
		return "discharge_battery"
	case control.ActionRestrictChargers:
		return "restrict_chargers"
	case control.ActionChargeBattery:
		return "charge_battery"
	default:
		return "none"
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New("control")

	var reporter telemetry.Reporter
	if cfg.Metrics.InfluxEnabled {
		rep := telemetry.NewInfluxReporter(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		defer rep.Close()
		reporter = rep
	}

	mgr, err := telemetry.NewManager(cfg.Dispatch.MQTT, cfg.Telemetry, reporter)
	if err != nil {
		return fmt.Errorf("telemetry manager: %w", err)
	}
	go mgr.Start(ctx)

	opts, err := infmqtt.NewClientOptions(cfg.Dispatch.MQTT)
	if err != nil {
		return err
	}
	opts.SetClientID(cfg.Dispatch.MQTT.ClientID + "-control")
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	defer cli.Disconnect(250)

	logic := control.Logic{TargetPowerW: cfg.Control.TargetPowerW, MinSoC: cfg.Control.MinSoC}
	ticker := time.NewTicker(time.Duration(cfg.Control.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range cfg.Curtail.MicrogridIDs {
				meas, ok := mgr.Latest(id)
				if !ok {
					logg.Debugf("no fresh telemetry for microgrid %d", id)
					continue
				}
				sp := logic.Step(meas)
				if sp.Action == control.ActionNone {
					continue
				}
				payload, err := json.Marshal(setpointMessage{
					Action:        actionString(sp.Action),
					BatteryPowerW: sp.BatteryPowerW,
					ChargerBoundW: sp.ChargerBoundW,
					Timestamp:     time.Now().Unix(),
				})
				if err != nil {
					return err
				}
				topic := fmt.Sprintf(cfg.Control.SetpointTopic, id)
				if token := cli.Publish(topic, cfg.Dispatch.MQTT.QoS, false, payload); token.Wait() && token.Error() != nil {
					logg.Errorf("publish setpoints to %s: %v", topic, token.Error())
					continue
				}
				logg.Infof("microgrid %d: %s (battery %.0f W, charger bound %.0f W)",
					id, actionString(sp.Action), sp.BatteryPowerW, sp.ChargerBoundW)
			}
		}
	}
}
