package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/runtime"
	srv "github.com/errandhq/errand/internal/server"
	"github.com/errandhq/errand/internal/store"
	"github.com/errandhq/errand/internal/tools"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "errand"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("ERRAND_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var sessionID string
	var verbose bool
	run := &cobra.Command{
		Use:   "run [request]",
		Short: "Execute one request and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return runOnce(cfg, args[0], sessionID, verbose)
		},
	}
	run.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	run.Flags().BoolVar(&verbose, "verbose", false, "print step events while running")

	var migDir string
	var direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, run, migrateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runOnce wires a one-shot orchestrator with in-memory persistence and
// executes a single request from the command line.
func runOnce(cfg *config.Config, requestText, sessionID string, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm, err := runtime.BuildPlanningProvider(cfg.LLM)
	if err != nil {
		return err
	}
	registry, err := tools.NewRegistry(ctx, runtime.BuildToolProviders(cfg.Tools)...)
	if err != nil {
		return fmt.Errorf("tool discovery: %w", err)
	}
	invoker := tools.NewInvoker(registry, cfg.Orchestration.ToolTimeout)
	dispatcher := orchestration.NewDispatcher(invoker, orchestration.DispatcherConfig{
		MaxRetries:  cfg.Orchestration.StepMaxRetries,
		Backoff:     cfg.Orchestration.StepBackoff,
		Concurrency: cfg.Orchestration.StepConcurrency,
	})
	oracle := orchestration.NewLLMOracle(llm, orchestration.OracleConfig{
		Timeout:        cfg.Orchestration.OracleTimeout,
		MaxRetries:     cfg.Orchestration.OracleMaxRetries,
		MaxCorrections: cfg.Orchestration.MaxPlanCorrections,
	})
	orch := orchestration.NewOrchestrator(oracle, registry, dispatcher, store.NewMemoryStore(),
		orchestration.Config{MaxIterations: cfg.Orchestration.MaxIterations})

	var sink orchestration.EventSink = orchestration.NopSink{}
	var events *orchestration.Broadcaster
	if verbose {
		events = orchestration.NewBroadcaster(cfg.Orchestration.EventBuffer)
		defer events.Close()
		ch, cancel := events.Subscribe()
		defer cancel()
		go func() {
			for ev := range ch {
				fmt.Fprintf(os.Stderr, "%s %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Message)
			}
		}()
		sink = events
	}

	result, err := orch.Run(ctx, orchestration.Request{
		SessionID:   sessionID,
		RequestText: requestText,
	}, sink)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
	return nil
}
