// Command pulsectl is the operator and requester CLI for pulse-core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns a fresh tree so tests
// can run commands in isolation.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pulsectl",
		Short: "Submit and control device commands on a pulse-core server",
		Long: `pulsectl talks to the pulse-core REST API.

Requesters submit vibrate and pulse commands and read scheduler status.
Operators can also stop every device and lock or unlock admissions.

CONFIGURATION PRECEDENCE (highest to lowest):
  1. Command-line flags
  2. Environment variables (PULSECTL_SERVER, PULSECTL_TOKEN, PULSECTL_SECRET, PULSECTL_TIMEOUT)
  3. Configuration file (.pulsectl.yaml in the working or home directory, or --config)
  4. Built-in defaults

EXAMPLES:
  # Mint a requester token with the server's shared secret
  PULSECTL_SECRET=... pulsectl token --id alice --name Alice

  # Vibrate at 60% for five seconds
  pulsectl --token "$TOKEN" vibrate 60 5

  # Operator emergency stop
  pulsectl --token "$OPERATOR_TOKEN" stop`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Configuration file path")
	pf.String("server", "", "Server base URL (default: "+defaultServer+")")
	pf.String("token", "", "Bearer token for API requests")
	pf.Duration("timeout", 0, "HTTP request timeout (default: 10s)")

	root.AddCommand(
		newCommandCmd("vibrate", "Hold a steady vibration level"),
		newCommandCmd("pulse", "Toggle vibration on and off"),
		newStatusCmd(),
		newDevicesCmd(),
		newStopCmd(),
		newLockCmd(),
		newUnlockCmd(),
		newTokenCmd(),
	)
	return root
}
