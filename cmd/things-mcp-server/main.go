// Command things-mcp-server is the bridge's entrypoint: a cobra root with
// serve, health-check, and queue-status subcommands, grounded on the
// cobra root/subcommand split in jra3-linear-fuse's internal/cmd (root.go
// + one file per subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "things-mcp-server",
	Short: "MCP bridge exposing Things 3 as a set of tool calls",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
