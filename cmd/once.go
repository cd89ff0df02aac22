package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/curtaild/app"
	"github.com/kilianp07/curtaild/config"
	"github.com/kilianp07/curtaild/infra/logger"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single scheduling cycle and exit",
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("once").Errorf("service close: %v", err)
		}
	}()

	svc.Scheduler.RunCycle(ctx, time.Now())
	return nil
}
