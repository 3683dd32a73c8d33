// Command dbcored runs one node of a dbcore cluster: SWIM membership and
// failure detection, Raft leader election over the current membership,
// and the synchronous-replication limbo queue owned by whichever node
// Raft currently elects leader. It is the demo binary spec.md's §0
// Module Identity describes as tying the three engines together.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tarantool/dbcore/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:   "dbcored",
	Short: "dbcore - gossip membership, Raft election and synchronous replication queue",
	Long: `dbcored runs a single node participating in a dbcore cluster.

Each node gossips membership over SWIM, runs a Raft election among the
nodes configured as voting candidates, and exposes a synchronous
replication limbo queue that the current Raft leader owns.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
