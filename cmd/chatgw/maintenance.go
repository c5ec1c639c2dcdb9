package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired messages and stale document collections",
		Long:  "Delete messages older than the retention period and document collections older than the collection TTL.",
		Args:  cobra.NoArgs,
		RunE:  runPurge,
	}
	rootCmd.AddCommand(cmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	messages, err := a.memory.Purge(ctx)
	if err != nil {
		return err
	}
	collections, err := a.gateway.CleanupCollections(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages and %d collections\n", messages, collections)
	return nil
}
