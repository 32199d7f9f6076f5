package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Report whether the database and automation write paths are reachable, then exit",
	RunE:  runHealthCheck,
}

func init() {
	rootCmd.AddCommand(healthCheckCmd)
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "things-mcp-server: ", log.LstdFlags)
	rt, _, err := buildRouter(logger)
	if err != nil {
		return err
	}
	env := rt.HealthCheck(context.Background())
	return printEnvelope(env)
}

func printEnvelope(env any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}
