package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krisarmstrong/bacstack/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.yaml>",
	Short: "Parse and validate a configuration file without starting",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid: %d port(s)", args[0], len(cfg.Ports))
	if cfg.BBMD != nil {
		fmt.Print(", bbmd enabled")
	}
	if cfg.API != nil {
		fmt.Printf(", api on %s", cfg.API.ListenAddr)
	}
	fmt.Println()
	return nil
}
