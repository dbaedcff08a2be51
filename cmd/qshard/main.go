package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "qshard",
	Short: "Distributed state-vector quantum circuit simulator",
	Long: `qshard simulates quantum registers split across cooperating ranks.
Ranks run in one process or connect through a websocket hub.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newRunCmd(), newHubCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("qshard: %v", err)
	}
}
