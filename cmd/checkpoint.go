package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and manage extraction checkpoints",
	}
	cmd.AddCommand(checkpointGetCmd())
	cmd.AddCommand(checkpointResetCmd())
	return cmd
}

func checkpointGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the recorded watermark for a source table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			key, _ := cmd.Flags().GetString("key")
			table, _ := cmd.Flags().GetString("table")

			store, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			entry, err := store.Get(ctx, key, table)
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t(updated %s)\n", entry.Value, entry.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().String("key", "", "checkpoint key")
	cmd.Flags().String("table", "", "table name")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func checkpointResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the watermark so the next extraction is a full load",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			key, _ := cmd.Flags().GetString("key")
			table, _ := cmd.Flags().GetString("table")

			store, err := a.checkpointStore(ctx)
			if err != nil {
				return err
			}
			return store.Reset(ctx, key, table)
		},
	}
	cmd.Flags().String("key", "", "checkpoint key")
	cmd.Flags().String("table", "", "table name")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}
