package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtroode/faceid-server/database"
	"github.com/dtroode/faceid-server/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "faceid-server",
		Short: "Face identity enrollment and matching server",
		Long: `faceid-server enrolls people with a portrait and identifies them later
from a probe photo by comparing face descriptors against every enrolled identity.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply PostgreSQL schema migrations",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(*cobra.Command, []string) {
				logAppVersion()
			},
		},
	)

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	if err := database.Migrate(ctx, cfg.Database.DSN); err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := database.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database schema at version %d\n", version)
	return nil
}
