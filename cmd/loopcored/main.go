// Loopcored runs the closed-loop insulin delivery core as a daemon: a
// heartbeat ticker drives the loop orchestrator, history lives in a local
// SQLite database, and Prometheus metrics are served over HTTP.
//
// Usage:
//
//	# Start the daemon with a config file
//	loopcored --config /etc/loopcore/config.yaml
//
//	# Start with the built-in fake pump (bench setups)
//	loopcored --fake-pump
//
//	# Run a fast offline simulation
//	loopcored simulate --cycles 288
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	fakePump   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loopcored",
	Short: "Closed-loop insulin delivery daemon",
	Long: `loopcored drives the automated insulin delivery loop: it validates
glucose telemetry, computes the total daily dose, invokes the dosing
algorithm, and enacts recommendations on the pump behind a safety gate.`,
	Version: version,
	RunE:    runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loopcored\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.Flags().BoolVar(&fakePump, "fake-pump", false, "use the in-memory fake pump driver")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}
