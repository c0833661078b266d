package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pelicanmail/pelican/internal/app"
)

var tickTimeout time.Duration

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one dispatch invocation and exit",
	Long:  `Processes all campaigns currently eligible to send, within one bounded execution window, then exits. Intended to be invoked from cron; overlapping invocations are safe.`,
	RunE:  runTick,
}

func init() {
	tickCmd.Flags().DurationVar(&tickTimeout, "timeout", 5*time.Minute, "Maximum wall-clock time for this invocation")
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	stats, err := a.Dispatcher.Run(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info("tick finished",
		"processed", stats.Processed,
		"completed", stats.Completed,
		"cancelled", stats.Cancelled,
		"skipped", stats.Skipped,
	)
	return nil
}
