// Command bacstack-top is a terminal dashboard for a running bacstackd
// configuration: it boots the same daemon.Daemon a bacstackd process
// would, then renders its live Statistics and RoutingTable instead of
// binding an API port for a remote viewer to poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/krisarmstrong/bacstack/pkg/config"
	"github.com/krisarmstrong/bacstack/pkg/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to a bacstackd YAML config")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bacstack-top -config <config.yaml>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.NewDaemon(cfg, *configPath, "bacstack-top")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	}()

	p := tea.NewProgram(newModel(d), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bacstack-top: %v\n", err)
		os.Exit(1)
	}
}
