package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stratapipe/strata/internal/contract"
)

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Validate and compare data contracts",
	}
	cmd.AddCommand(contractValidateCmd())
	cmd.AddCommand(contractDiffCmd())
	cmd.AddCommand(contractRegisterCmd())
	cmd.AddCommand(contractHistoryCmd())
	return cmd
}

func (a *app) contractRegistry() *contract.Registry {
	return contract.NewRegistry(filepath.Join(a.cfg.Paths.DataDir, "contracts"))
}

func contractValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a contract document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := contract.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s ok (fingerprint %s)\n", c.Dataset, c.Version, c.Fingerprint()[:12])
			return nil
		},
	}
}

func contractDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two contract versions and print the compatibility verdict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, err := contract.Load(args[0])
			if err != nil {
				return err
			}
			next, err := contract.Load(args[1])
			if err != nil {
				return err
			}
			report, err := contract.Compare(old, next)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			if report.Verdict == contract.VerdictBreaking && !old.Evolution.Allows(report.Verdict) {
				return fmt.Errorf("breaking change rejected by %s evolution policy", old.Evolution.Strategy)
			}
			return nil
		},
	}
}

func contractRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <file>",
		Short: "Register a contract version in the local registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			c, err := contract.Load(args[0])
			if err != nil {
				return err
			}
			changelog, _ := cmd.Flags().GetString("changelog")
			entry, err := a.contractRegistry().Register(cmd.Context(), c, changelog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s %s (fingerprint %s)\n", entry.Dataset, entry.Version, entry.Fingerprint[:12])
			return nil
		},
	}
	cmd.Flags().String("changelog", "", "what changed in this version")
	return cmd
}

func contractHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <dataset>",
		Short: "List the registered versions of a dataset contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.contractRegistry().Entries(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s\t%s", e.Version, e.Fingerprint[:12])
				if e.Changelog != "" {
					line += "\t" + e.Changelog
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
