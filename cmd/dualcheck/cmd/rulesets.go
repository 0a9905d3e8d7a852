package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var rulesetsCmd = &cobra.Command{
	Use:   "rulesets",
	Short: "List the client rule sets in rotation order",
	RunE:  runRuleSets,
}

func init() {
	rootCmd.AddCommand(rulesetsCmd)
	rulesetsCmd.Flags().String("rulesets", "", "YAML rule set file (default: embedded rule sets)")
	rulesetsCmd.Flags().String("server-url", "http://localhost:8080", "HTTP base URL of the server")
	rulesetsCmd.Flags().Bool("remote-rules", false, "list the rule sets the server publishes")
}

func runRuleSets(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	remote, _ := cmd.Flags().GetBool("remote-rules")
	registry, err := clientRegistry(context.Background(), cfg, remote, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tID\tLABEL\tDESCRIPTION")
	for i, rs := range registry.All() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, rs.ID, rs.Label, rs.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\netag %s\n", registry.ETag())
	return nil
}
