package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/thingsmcp/bridge/internal/cache"
	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/dbreader"
	"github.com/thingsmcp/bridge/internal/exec"
	"github.com/thingsmcp/bridge/internal/mcpadapter"
	"github.com/thingsmcp/bridge/internal/queue"
	"github.com/thingsmcp/bridge/internal/router"
	"github.com/thingsmcp/bridge/internal/shape"
	"github.com/thingsmcp/bridge/internal/tagpolicy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over stdio until the process is signaled to stop",
	RunE:  runServe,
}

// shutdownGrace bounds how long serve waits for in-flight queue operations
// to finish draining after SIGINT/SIGTERM before exiting anyway.
const shutdownGrace = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires every component the Router depends on. health-check
// and queue-status build the same chain as a fresh instance in their own
// process, without starting the MCP loop, so what they report is that
// instance's state, not a running server's (spec.md §6.5).
func buildRouter(logger *log.Logger) (*router.Router, *queue.Queue, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := dbreader.Open(cfg.Database.Path)
	if err != nil {
		logger.Printf("database unavailable, falling back to automation-only reads: %v", err)
		db = nil
	}

	executor := exec.New(cfg.Automation.BinaryPath)
	invoker := exec.NewInvoker(cfg.Automation.OpenBinaryPath, cfg.Automation.AuthToken)

	q := queue.New(queue.Config{
		MaxDepth:      cfg.Queue.MaxDepth,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		MaxWait:       cfg.Queue.MaxWait,
		BackoffBase:   cfg.Queue.BackoffBase,
		BackoffCap:    cfg.Queue.BackoffCap,
		RecentHistory: cfg.Queue.RecentHistory,
	})

	now := time.Now
	sched := router.NewScheduler(cfg, executor, invoker, now)
	rt := router.New(cfg, cache.New[any](cfg.Cache.DefaultTTL), db, q, sched,
		shape.New(cfg.Shaper.MaxResponseBytes), tagpolicy.New(cfg.TagPolicy),
		executor, invoker, now, logger)

	return rt, q, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "things-mcp-server: ", log.LstdFlags)

	rt, q, err := buildRouter(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueDrained := make(chan struct{})
	go func() {
		q.Start(ctx)
		close(queueDrained)
	}()

	server := mcp.NewServer(&mcp.Implementation{Name: "things-mcp-server", Version: "0.1.0"}, nil)
	mcpadapter.Register(server, rt)

	logger.Println("serving MCP tools over stdio")
	runErr := server.Run(ctx, &mcp.StdioTransport{})
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server exited: %w", runErr)
	}

	logger.Println("shutting down, draining in-flight queue operations")
	select {
	case <-queueDrained:
	case <-time.After(shutdownGrace):
		logger.Println("shutdown grace period expired, exiting with operations still in flight")
	}
	return nil
}
