package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/console"
	"github.com/solatis/dualcheck/internal/core/config"
	"github.com/solatis/dualcheck/internal/protocol"
	"github.com/solatis/dualcheck/internal/rules"
	"github.com/solatis/dualcheck/internal/session"
)

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Run the interactive form client",
	RunE:  runForm,
}

func init() {
	rootCmd.AddCommand(formCmd)
	formCmd.Flags().String("server-url", "http://localhost:8080", "HTTP base URL of the server")
	formCmd.Flags().String("transport", config.TransportHTTP, "submission transport (http, grpc)")
	formCmd.Flags().String("grpc-target", "localhost:50051", "gRPC target of the server")
	formCmd.Flags().Duration("rotation-interval", session.DefaultRotationInterval, "client rule set rotation period")
	formCmd.Flags().String("rulesets", "", "YAML rule set file (default: embedded rule sets)")
	formCmd.Flags().Bool("remote-rules", false, "fetch rule sets from the server's validation config")
	formCmd.Flags().Int("start-index", 0, "initial rule set index")
}

func runForm(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	remote, _ := cmd.Flags().GetBool("remote-rules")
	startIndex, _ := cmd.Flags().GetInt("start-index")

	registry, err := clientRegistry(ctx, cfg, remote, logger)
	if err != nil {
		return err
	}
	submitter, closeFn, err := clientSubmitter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ui := console.New(console.NewSurveyDriver(os.Stdout))
	s := session.New(registry, submitter,
		session.WithRotationInterval(cfg.Client.RotationInterval),
		session.WithStartIndex(startIndex),
		session.WithLogger(logger.Named("session")),
		session.WithNotify(ui.Notify))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(runCtx) }()

	uiErr := ui.Run(runCtx, s)
	cancel()
	if err := <-errCh; err != nil {
		return err
	}
	return uiErr
}

func clientRegistry(ctx context.Context, cfg *config.Config, remote bool, logger *zap.Logger) (*rules.Registry, error) {
	if !remote {
		registry, err := rules.LoadRegistryFile(cfg.Client.RuleSetsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule sets: %w", err)
		}
		return registry, nil
	}

	fetcher := protocol.NewHTTPSubmitter(cfg.Client.ServerURL, cfg.Client.SubmitTimeout, protocol.WithHTTPLogger(logger))
	vc, etag, err := fetcher.FetchValidationConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch validation config: %w", err)
	}
	registry, err := rules.NewRegistry(vc.RuleSets, etag)
	if err != nil {
		return nil, fmt.Errorf("invalid validation config from %s: %w", cfg.Client.ServerURL, err)
	}
	logger.Info("rule sets fetched from server",
		zap.Int("rulesets", registry.Count()),
		zap.String("etag", etag))
	return registry, nil
}

func clientSubmitter(cfg *config.Config, logger *zap.Logger) (protocol.Submitter, func(), error) {
	switch cfg.Client.Transport {
	case config.TransportGRPC:
		conn, err := protocol.DialGRPC(cfg.Client.GRPCTarget)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create grpc client: %w", err)
		}
		closeFn := func() {
			if err := conn.Close(); err != nil {
				logger.Warn("failed to close grpc connection", zap.Error(err))
			}
		}
		return protocol.NewGRPCSubmitter(conn, cfg.Client.SubmitTimeout, logger.Named("grpc")), closeFn, nil
	default:
		sub := protocol.NewHTTPSubmitter(cfg.Client.ServerURL, cfg.Client.SubmitTimeout,
			protocol.WithHTTPLogger(logger.Named("http")))
		return sub, func() {}, nil
	}
}
