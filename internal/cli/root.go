// Package cli dispatches panelfleet subcommands and owns process-level
// concerns: signal handling, .env loading, and exit codes.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is stamped at build time.
var Version = "dev"

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadDotEnv(".env")

	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "worker":
		return runWorker(ctx, args[1:])
	case "servers":
		return runServers(ctx, args[1:])
	case "user":
		return runUser(ctx, args[1:])
	case "version", "--version", "-v":
		fmt.Println("panelfleet", Version)
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Print(`panelfleet - VPN panel fleet provisioner

Usage:
  panelfleet worker [flags]                 run the reconciliation daemon
  panelfleet servers add|update|remove|list manage the server fleet
  panelfleet user add|enable|disable        manage subscribers
  panelfleet user provision|deprovision     apply one user across the fleet
  panelfleet user configs                   print a user's connection links
  panelfleet user totals                    print per-user traffic totals
  panelfleet version

Common flags (also via PANELFLEET_* env or .env):
  -db PATH             SQLite database path
  -log-level LEVEL     debug|info|warn|error
  -sync-period D       max server-list staleness before re-sync
  -reconcile-interval D  worker reconciliation interval
  -fanout-limit N      max concurrent panel calls
`)
}
