package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/dualcheck/internal/core/api"
	"github.com/solatis/dualcheck/internal/core/authority"
	"github.com/solatis/dualcheck/internal/core/config"
	"github.com/solatis/dualcheck/internal/core/db"
	"github.com/solatis/dualcheck/internal/core/server"
	"github.com/solatis/dualcheck/internal/rules"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authoritative validation server (HTTP and gRPC)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("http-port", 8080, "HTTP port")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC port")
	serveCmd.Flags().Float64("failure-rate", 0.15, "probability of an injected transient failure")
	serveCmd.Flags().String("rulesets", "", "YAML rule set file published to clients")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	denylist, err := loadDenylist(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry, err := rules.LoadRegistryFile(cfg.Client.RuleSetsFile)
	if err != nil {
		return fmt.Errorf("failed to load rule sets: %w", err)
	}

	evaluator := authority.New(denylist, cfg.Server.FailureRate, authority.WithLogger(logger.Named("authority")))
	service, err := api.NewSubmissionService(evaluator, registry, logger.Named("api"))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	httpServer, err := server.NewHTTPServer(&cfg.Server, service, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, logger.Named("grpc"))
	if err != nil {
		return fmt.Errorf("failed to create grpc server: %w", err)
	}

	logger.Info("starting dualcheck server",
		zap.String("version", Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Float64("failure_rate", cfg.Server.FailureRate),
		zap.Int("rulesets", registry.Count()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), grpcServer.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// loadDenylist reads the server denylists from the database when one is
// configured and falls back to the built-in lists otherwise.
func loadDenylist(ctx context.Context, cfg *config.Config, logger *zap.Logger) (authority.Denylist, error) {
	if cfg.Database.URL == "" {
		logger.Info("no database configured, using built-in denylists")
		return authority.DefaultDenylist(), nil
	}

	database, err := openMigrated(ctx, cfg.Database.URL, logger)
	if err != nil {
		return authority.Denylist{}, err
	}
	defer database.Close()

	queries, err := db.LoadQueries(database)
	if err != nil {
		return authority.Denylist{}, fmt.Errorf("failed to load queries: %w", err)
	}
	d, err := authority.LoadDenylist(ctx, db.NewDenylistStore(queries))
	if err != nil {
		return authority.Denylist{}, err
	}
	logger.Info("denylists loaded",
		zap.Int("email_domains", len(d.EmailDomains)),
		zap.Int("usernames", len(d.Usernames)))
	return d, nil
}

// openMigrated opens the database and refuses to continue with pending
// migrations.
func openMigrated(ctx context.Context, url string, logger *zap.Logger) (*sqlx.DB, error) {
	database, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, st := range statuses {
		if !st.Applied {
			database.Close()
			return nil, fmt.Errorf("migration %s not applied - run 'dualcheck migrate' first", st.ID)
		}
	}
	logger.Debug("database ready", zap.Int("migrations", len(statuses)))
	return database, nil
}
