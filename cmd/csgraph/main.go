// Command csgraph hosts the RPC surface over stdio: capabilities, init,
// evaluate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/csgraph/provider/internal/debug"
	"github.com/csgraph/provider/internal/project"
	"github.com/csgraph/provider/internal/rpcserver"
	"github.com/csgraph/provider/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "csgraph",
		Usage:   "C# stack-graph semantic indexing and query provider",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "port",
				Usage: "TCP port to bind (mutually exclusive with --socket; unimplemented, reserved for a future non-stdio transport)",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Unix socket path to bind (mutually exclusive with --port; unimplemented, reserved for a future non-stdio transport)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Server instance name, surfaced in logs",
				Value: "csgraph-provider",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "Persistence file path; parsed but not used: each init takes providerSpecificConfig.db_path, or /tmp/c_sharp_provider.db when that is unset",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, or off",
				Value: envOr("CSGRAPH_LOG_LEVEL", "info"),
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "csgraph: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(c *cli.Context) error {
	if c.IsSet("port") && c.IsSet("socket") {
		return cli.Exit("--port and --socket are mutually exclusive", 2)
	}
	if c.String("log-level") == "debug" {
		if _, err := debug.InitLogFile(); err != nil {
			return cli.Exit(fmt.Sprintf("failed to open debug log: %v", err), 1)
		}
		defer debug.CloseLogFile()
	}

	// Only stdio is wired up; --port/--socket are accepted for CLI-surface
	// completeness but not yet bound to a listener.
	debug.SetRPCMode(true)

	mgr := project.NewManager()
	defer mgr.Close()

	server := rpcserver.NewServer(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		debug.LogRPC("%s %s starting on stdio transport", c.String("name"), version.FullInfo())
		errChan <- server.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return cli.Exit(fmt.Sprintf("server error: %v", err), 1)
		}
		return nil
	case sig := <-sigChan:
		debug.LogRPC("received signal %v, shutting down", sig)
		cancel()

		shutdownTimer := time.NewTimer(2 * time.Second)
		defer shutdownTimer.Stop()

		select {
		case err := <-errChan:
			if err != nil {
				return cli.Exit(fmt.Sprintf("server error during shutdown: %v", err), 1)
			}
			return nil
		case <-shutdownTimer.C:
			os.Stdin.Close()
			return nil
		}
	}
}
