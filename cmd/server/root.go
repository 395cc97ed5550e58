package main

import (
	"github.com/spf13/cobra"
)

var envFile string

// NewRootCmd creates the root command for the server CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "Email and password authentication service",
		Long: `authcore serves signup, login, logout and email verification over HTTP,
backed by PostgreSQL with sessions in PostgreSQL or Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPruneCmd())

	return cmd
}
