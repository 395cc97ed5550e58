package main

import (
	"github.com/spf13/cobra"

	"github.com/vestri/authcore/internal/errutil"
)

// NewPruneCmd creates the prune subcommand.
func NewPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions and verification codes",
		Long: `Delete expired sessions and email verification codes once and exit.
Run it from cron or a scheduled job.`,
		RunE: runPrune,
	}
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, codes, err := a.service.Prune(cmd.Context())
	if err != nil {
		errutil.LogError(a.logger, "prune failed", err)
		return err
	}

	a.logger.Info("pruned expired rows", "sessions", sessions, "codes", codes)
	cmd.Printf("Removed %d sessions and %d verification codes\n", sessions, codes)
	return nil
}
