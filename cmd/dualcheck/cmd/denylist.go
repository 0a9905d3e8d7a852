package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/dualcheck/internal/core/db"
)

var denylistCmd = &cobra.Command{
	Use:   "denylist",
	Short: "Manage the server-only email domain and username denylists",
}

var denylistAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add banned email domains or reserved usernames",
	Example: `  dualcheck denylist add --db-url sqlite://dc.db --domain spam.example
  dualcheck denylist add --db-url sqlite://dc.db --username root --username admin`,
	RunE: runDenylistAdd,
}

var denylistListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the stored denylists",
	RunE:  runDenylistList,
}

func init() {
	rootCmd.AddCommand(denylistCmd)
	denylistCmd.AddCommand(denylistAddCmd, denylistListCmd)
	denylistAddCmd.Flags().StringSlice("domain", nil, "email domain to ban (repeatable)")
	denylistAddCmd.Flags().StringSlice("username", nil, "username to reserve (repeatable)")
}

func runDenylistAdd(cmd *cobra.Command, args []string) error {
	domains, _ := cmd.Flags().GetStringSlice("domain")
	usernames, _ := cmd.Flags().GetStringSlice("username")
	if len(domains) == 0 && len(usernames) == 0 {
		return fmt.Errorf("nothing to add: pass --domain or --username")
	}

	return withDenylistStore(cmd, func(ctx context.Context, store *db.DenylistStore, logger *zap.Logger) error {
		if err := addDenylistEntries(ctx, store, domains, usernames); err != nil {
			return err
		}
		logger.Info("denylist updated",
			zap.Strings("domains", domains),
			zap.Strings("usernames", usernames))
		return nil
	})
}

func runDenylistList(cmd *cobra.Command, args []string) error {
	return withDenylistStore(cmd, func(ctx context.Context, store *db.DenylistStore, _ *zap.Logger) error {
		return printDenylist(ctx, cmd.OutOrStdout(), store)
	})
}

// withDenylistStore opens the configured, fully migrated database and hands
// fn a store over it.
func withDenylistStore(cmd *cobra.Command, fn func(context.Context, *db.DenylistStore, *zap.Logger) error) error {
	ctx := context.Background()

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.URL == "" {
		return fmt.Errorf("--db-url required")
	}
	database, err := openMigrated(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	return fn(ctx, db.NewDenylistStore(queries), logger.Named("denylist"))
}

// addDenylistEntries stores every domain and username. Blank entries are
// rejected before anything is written.
func addDenylistEntries(ctx context.Context, store *db.DenylistStore, domains, usernames []string) error {
	for _, v := range append(append([]string{}, domains...), usernames...) {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("blank denylist entry")
		}
	}
	for _, d := range domains {
		if err := store.AddBannedDomain(ctx, d); err != nil {
			return fmt.Errorf("failed to add domain %q: %w", d, err)
		}
	}
	for _, u := range usernames {
		if err := store.AddReservedUsername(ctx, u); err != nil {
			return fmt.Errorf("failed to add username %q: %w", u, err)
		}
	}
	return nil
}

func printDenylist(ctx context.Context, w io.Writer, store *db.DenylistStore) error {
	domains, err := store.ListBannedDomains(ctx)
	if err != nil {
		return err
	}
	names, err := store.ListReservedUsernames(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Banned email domains:")
	for _, d := range domains {
		fmt.Fprintf(w, "  %s\n", d)
	}
	fmt.Fprintln(w, "Reserved usernames:")
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", n)
	}
	return nil
}
