// Package main provides the bacstackd command-line interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bacstackd",
	Short: "BACnet protocol router and transaction engine",
	Long: `bacstackd runs a BACnet network-layer router over one or more
BACnet/IP and BACnet Secure Connect ports, with a client/server
transaction state machine on top.

It is a protocol core, not a device: it routes NPDUs between ports,
answers Who-Is-Router-To-Network and BBMD traffic, and completes
confirmed/unconfirmed transactions including segmentation. It has no
object database of its own; embedding applications supply a
tsm.ServiceHandler for the services they implement.`,
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("bacstackd %s (commit: %s, built: %s)\n", version, commit, date))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
