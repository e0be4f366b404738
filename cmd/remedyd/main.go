// Remedyd is the AI remediation orchestration daemon.
//
// It accepts alert and incident remediation requests over HTTP, resolves the
// owning repository, gathers issue tracker evidence, generates a root cause
// analysis report, and opens a draft pull request with the findings.
//
// Configuration is loaded from an optional YAML file plus REMEDYD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	remedyd
//
//	# Start with a config file
//	remedyd -config /etc/remedyd/config.yaml
//
//	# Configure via environment
//	REMEDYD_SERVER_PORT=9090 REMEDYD_REMEDIATION_ENABLED=true remedyd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	httpserver "github.com/fyrsmithlabs/remedyd/internal/http"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/publish"
	"github.com/fyrsmithlabs/remedyd/internal/rca"
	"github.com/fyrsmithlabs/remedyd/internal/remediation"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/tenant"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  remedyd           Start the remediation daemon\n")
			fmt.Fprintf(os.Stderr, "  remedyd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("remedyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the remediation daemon and blocks until the context is
// cancelled. It loads configuration, wires the job store, entity store,
// feature gate, evidence fetcher, report generator and publisher into the
// remediation service, then serves the HTTP API until shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting remedyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("remediation_enabled", cfg.Remediation.Enabled),
		zap.Bool("pull_requests_enabled", cfg.GitHub.CreatePullRequests))

	tel := telemetry.Init(ctx, cfg.Telemetry, version)
	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry degraded", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	jobs, err := openJobStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		_ = jobs.Close()
	}()

	entities := entity.NewMemoryStore()
	if cfg.Entities.SourcePath != "" {
		if err := entities.LoadFile(cfg.Entities.SourcePath); err != nil {
			return fmt.Errorf("load entity source %s: %w", cfg.Entities.SourcePath, err)
		}
		logger.Info(ctx, "entity source loaded", zap.String("path", cfg.Entities.SourcePath))
	}

	service, err := buildService(ctx, cfg, logger, jobs, entities)
	if err != nil {
		return fmt.Errorf("initialize remediation service: %w", err)
	}
	defer func() {
		_ = service.Close()
	}()

	srv, err := httpserver.NewServer(service, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initialize http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown did not complete cleanly", zap.Error(err))
	}

	// Let in-flight remediation jobs finish before the stores close.
	service.Wait()
	return nil
}

// openJobStore picks SQLite persistence when a database path is configured
// and falls back to the in-memory store otherwise.
func openJobStore(cfg *config.Config, logger *logging.Logger) (remediation.JobStore, error) {
	if cfg.Jobs.DBPath == "" {
		logger.Info(context.Background(), "no job database configured, using in-memory job store")
		return remediation.NewMemoryJobStore(), nil
	}
	store, err := remediation.OpenSQLiteJobStore(cfg.Jobs.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "job store opened", zap.String("path", cfg.Jobs.DBPath))
	return store, nil
}

// buildService wires the remediation pipeline from configuration.
func buildService(ctx context.Context, cfg *config.Config, logger *logging.Logger, jobs remediation.JobStore, entities *entity.MemoryStore) (*remediation.Service, error) {
	gate := tenant.NewGate(cfg.Remediation, cfg.Tenants.Overrides, jobs)
	creds := tenant.NewCredentialStore(cfg.Sentry)

	mapping, err := cfg.Remediation.ParseServiceMapping()
	if err != nil {
		logger.Warn(ctx, "invalid service mapping, repository resolution will rely on entity tags", zap.Error(err))
		mapping = nil
	}
	resolver := remediation.NewResolver(mapping, logger.Named("resolver"))

	generator, err := rca.New(cfg.Anthropic, logger.Named("rca"))
	if err != nil {
		return nil, fmt.Errorf("initialize report generator: %w", err)
	}

	fetcher := evidence.NewFetcher(creds, cfg.Sentry.BaseURL, logger.Named("evidence"))

	var publisher remediation.PullRequestPublisher
	if cfg.GitHub.CreatePullRequests {
		p, err := publish.New(cfg.GitHub, publish.WithLogger(logger.Named("publish")))
		if err != nil {
			return nil, fmt.Errorf("initialize publisher: %w", err)
		}
		publisher = p
	} else {
		logger.Info(ctx, "pull request creation disabled, reports will not be published")
	}

	return remediation.NewService(remediation.ServiceParams{
		Store:           jobs,
		Entities:        entities,
		Gate:            gate,
		Resolver:        resolver,
		Fetcher:         fetcher,
		Generator:       generator,
		Publisher:       publisher,
		Enricher:        entities,
		FrontendBaseURL: cfg.Remediation.FrontendBaseURL,
		Logger:          logger.Named("remediation"),
	})
}
