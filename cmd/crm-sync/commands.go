package main

import (
	"encoding/json"
	"fmt"
	"io"

	"leadsync_backend/internal/qualification"
	"leadsync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "crm-sync",
	Short:         "Synchronize CRM pipelines and lead qualification",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Refresh an account's pipeline stage registry from the CRM",
	Long: `Refresh an account's pipeline stage registry from the CRM.

Run this before configuring direction key stages for a new pipeline.

Example:
  crm-sync catalog --account 3f0c9a4e-6f1e-4a52-9a0b-2c1f3e7d9b10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *qualification.Service, _ *logger.Logger) error {
			result, err := svc.SyncPipelineCatalog(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

// --- leads ---

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Reconcile local leads with their CRM pipeline stages",
	Long: `Reconcile local leads with their CRM pipeline stages.

Examples:
  crm-sync leads --account 3f0c9a4e-6f1e-4a52-9a0b-2c1f3e7d9b10
  crm-sync leads --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		raw, _ := cmd.Flags().GetString("account")
		if all && raw != "" {
			return fmt.Errorf("--account and --all are mutually exclusive")
		}
		if all {
			return withService(cmd.Context(), func(svc *qualification.Service, _ *logger.Logger) error {
				if err := svc.SyncAllAccounts(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all accounts synchronized")
				return nil
			})
		}

		accountID, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withService(cmd.Context(), func(svc *qualification.Service, _ *logger.Logger) error {
			result, err := svc.SyncAccountLeads(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

func init() {
	catalogCmd.Flags().String("account", "", "owning account id")
	leadsCmd.Flags().String("account", "", "owning account id")
	leadsCmd.Flags().Bool("all", false, "sync every account with an active CRM connection")

	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(leadsCmd)
}

func accountFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("account")
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("--account is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid --account %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
