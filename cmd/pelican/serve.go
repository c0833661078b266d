package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pelicanmail/pelican/internal/app"
	"github.com/pelicanmail/pelican/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server with the background dispatch worker",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "pelican.yaml", "Path to configuration file")
	tickCmd.Flags().StringVarP(&configFile, "config", "c", "pelican.yaml", "Path to configuration file")
}

func loadConfig() (*config.Config, error) {
	// Optional .env for local development; secrets may live there.
	_ = godotenv.Load()
	return config.Load(configFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		a.Logger.Info("shutting down...")
		cancel()
	}()

	return a.Run(ctx)
}
