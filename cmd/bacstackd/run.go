package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/krisarmstrong/bacstack/pkg/config"
	"github.com/krisarmstrong/bacstack/pkg/daemon"
	"github.com/krisarmstrong/bacstack/pkg/logging"
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Start bacstackd with the given configuration",
	Long: `Load a YAML configuration describing the daemon's ports, optional
BBMD, TSM tuning, and optional API/storage surfaces, wire it into a
running router, and block until interrupted.

Example:
  bacstackd run bacstackd.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runOpts struct {
	noColor bool
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOpts.noColor, "no-color", false, "disable colored log output")
}

func runRun(cmd *cobra.Command, args []string) error {
	logging.InitColors(!runOpts.noColor)

	configPath := args[0]
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Info("Starting bacstackd %s", version)
	logging.Info("Config: %s (%d port(s))", configPath, len(cfg.Ports))

	d, err := daemon.NewDaemon(cfg, configPath, version)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logging.Success("bacstackd is running; press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.Shutdown(ctx); err != nil {
		logging.Error("error during shutdown: %v", err)
		return err
	}
	logging.Success("bacstackd stopped gracefully")
	return nil
}
