package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var queueStatusCmd = &cobra.Command{
	Use:   "queue-status",
	Short: "Print the Operation Queue's current depth, running op, and recent history, then exit",
	RunE:  runQueueStatus,
}

func init() {
	rootCmd.AddCommand(queueStatusCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "things-mcp-server: ", log.LstdFlags)
	rt, _, err := buildRouter(logger)
	if err != nil {
		return err
	}
	env := rt.QueueStatus(context.Background())
	return printEnvelope(env)
}
