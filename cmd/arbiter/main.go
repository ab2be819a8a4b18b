// Package main is the entry point for the arbiter binary.
// It provides a CLI for serving the policy decision engine over HTTP and for
// offline catalog validation and one-shot request evaluation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/server"
	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine"
	"github.com/arbiterhq/arbiter/pkg/exceptions"
	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Policy decision engine",
		Long: `Arbiter evaluates access requests against a versioned rule catalog and an
exception registry, and composes default-deny decisions with risk scores and
obligations.

Example:
  arbiter serve --listen :8080 --catalog /etc/arbiter/catalog.yaml`,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newDecideCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the decision API over HTTP",
		RunE:  runServe,
	}

	serveCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("catalog", "", "Path to the rule catalog file (overrides config)")
	serveCmd.Flags().String("exceptions", "", "Path to the exception registry file (overrides config)")
	serveCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("pretty", false, "Human-readable log output")
	serveCmd.Flags().String("otlp-endpoint", "", "OTLP trace collector endpoint (overrides config)")

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	logging.SetupLogger(cfg.Logging)
	logger := logging.New(cfg.Logging, "arbiter")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "arbiter",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	eng := engine.New(engine.Options{
		Logger: logging.New(cfg.Logging, "engine"),
		Risk:   cfg.Risk.ToRisk(),
	})

	cat, err := loadCatalog(cfg.Sources.Catalog)
	if err != nil {
		return err
	}
	eng.SetCatalog(cat)
	logger.Info().
		Str("version", cat.Version()).
		Str("revision", cat.Revision()).
		Int("rules", cat.RuleCount()).
		Msg("catalog loaded")

	if cfg.Sources.Exceptions != "" {
		registry, err := loadExceptions(cfg.Sources.Exceptions)
		if err != nil {
			return err
		}
		eng.SetExceptions(registry)
		logger.Info().Int("entries", registry.Len()).Msg("exception registry loaded")
	}

	metrics := server.NewMetrics()

	if cfg.Sources.Catalog != "" || cfg.Sources.Exceptions != "" {
		watcher, err := config.NewSourceWatcher(logging.New(cfg.Logging, "watcher"), cfg.Sources.Catalog, cfg.Sources.Exceptions)
		if err != nil {
			return fmt.Errorf("watch sources: %w", err)
		}
		defer func() { _ = watcher.Close() }()
		go applySourceUpdates(ctx, watcher.Subscribe(), eng, metrics, logger)
	}

	srv := server.New(server.Options{
		Logger:  logging.New(cfg.Logging, "http"),
		Engine:  eng,
		Metrics: metrics,
		Config:  cfg.Server,
	})

	return srv.Run(ctx)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Address = listen
	}
	if catalogPath, _ := cmd.Flags().GetString("catalog"); catalogPath != "" {
		cfg.Sources.Catalog = catalogPath
	}
	if exceptionsPath, _ := cmd.Flags().GetString("exceptions"); exceptionsPath != "" {
		cfg.Sources.Exceptions = exceptionsPath
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
		cfg.Logging.Pretty = true
	}
	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}
}

// applySourceUpdates consumes watcher updates and swaps engine snapshots.
// A source that fails to parse is rejected and the current snapshot stays
// published.
func applySourceUpdates(ctx context.Context, updates <-chan config.Update, eng *engine.Engine, metrics *server.Metrics, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			switch update.Kind {
			case config.SourceCatalog:
				cat, err := catalog.Load(update.Data)
				if err != nil {
					metrics.RecordSourceReload("catalog", "rejected")
					logger.Error().Err(err).Msg("catalog reload rejected; keeping current snapshot")
					continue
				}
				eng.SetCatalog(cat)
				metrics.RecordSourceReload("catalog", "applied")
			case config.SourceExceptions:
				registry, err := exceptions.Load(update.Data)
				if err != nil {
					metrics.RecordSourceReload("exceptions", "rejected")
					logger.Error().Err(err).Msg("exception reload rejected; keeping current snapshot")
					continue
				}
				eng.SetExceptions(registry)
				metrics.RecordSourceReload("exceptions", "applied")
			}
		}
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Builtin(), nil
	}
	//nolint:gosec // Catalog path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := catalog.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

func loadExceptions(path string) (*exceptions.Registry, error) {
	//nolint:gosec // Exceptions path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exceptions %s: %w", path, err)
	}
	registry, err := exceptions.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load exceptions %s: %w", path, err)
	}
	return registry, nil
}

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a catalog and exception registry without serving",
		RunE:  runCheck,
	}

	checkCmd.Flags().String("catalog", "", "Path to the rule catalog file (builtin when omitted)")
	checkCmd.Flags().String("exceptions", "", "Path to the exception registry file")

	return checkCmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	catalogPath, _ := cmd.Flags().GetString("catalog")
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}
	cmd.Printf("catalog ok: version=%s revision=%s domains=%d rules=%d\n",
		cat.Version(), cat.Revision(), len(cat.Domains()), cat.RuleCount())

	if exceptionsPath, _ := cmd.Flags().GetString("exceptions"); exceptionsPath != "" {
		registry, err := loadExceptions(exceptionsPath)
		if err != nil {
			return err
		}
		cmd.Printf("exceptions ok: entries=%d\n", registry.Len())
	}

	return nil
}

func newDecideCmd() *cobra.Command {
	decideCmd := &cobra.Command{
		Use:   "decide",
		Short: "Evaluate a single request from a JSON file and print the decision",
		RunE:  runDecide,
	}

	decideCmd.Flags().String("catalog", "", "Path to the rule catalog file (builtin when omitted)")
	decideCmd.Flags().String("exceptions", "", "Path to the exception registry file")
	decideCmd.Flags().StringP("request", "r", "", "Path to the request file (JSON)")
	decideCmd.Flags().String("at", "", "Evaluation time (RFC 3339, defaults to now)")
	_ = decideCmd.MarkFlagRequired("request")

	return decideCmd
}

func runDecide(cmd *cobra.Command, _ []string) error {
	catalogPath, _ := cmd.Flags().GetString("catalog")
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Options{Logger: logging.New(logging.Config{Level: "warn"}, "engine")})
	eng.SetCatalog(cat)

	if exceptionsPath, _ := cmd.Flags().GetString("exceptions"); exceptionsPath != "" {
		registry, err := loadExceptions(exceptionsPath)
		if err != nil {
			return err
		}
		eng.SetExceptions(registry)
	}

	requestPath, _ := cmd.Flags().GetString("request")
	//nolint:gosec // Request path is supplied by the operator
	data, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read request %s: %w", requestPath, err)
	}
	var req domain.DecisionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse request %s: %w", requestPath, err)
	}

	at := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		at = parsed
	}

	decision := eng.DecideAt(cmd.Context(), req, at)

	encoded, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(encoded))

	if !decision.Allowed {
		os.Exit(2)
	}
	return nil
}
