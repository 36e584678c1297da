// Package main provides a CLI tool for copying classification sessions from a
// SQLite store into MySQL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/internal/datastore"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:     "dbexport",
		Short:   "Copy ecosort sessions from SQLite to MySQL",
		Version: version,
		Long: `Copy classification sessions with their taxonomy snapshots, media and
review labels from a SQLite store into a MySQL store.

Session, group, class and item ids are preserved. Sessions that already exist
in the target are skipped, so an interrupted export can be run again.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			out := cmd.OutOrStdout()
			if cfg.Verbose {
				fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
				fmt.Fprintf(out, "Target: %s\n", cfg.SanitizedTarget())
			}

			source := datastore.New(cfg.SourceSettings())
			if err := source.Open(); err != nil {
				return fmt.Errorf("failed to open source: %w", err)
			}
			defer source.Close()
			target := datastore.New(cfg.TargetSettings())
			if err := target.Open(); err != nil {
				return fmt.Errorf("failed to open target: %w", err)
			}
			defer target.Close()

			m := NewMigrator(source, target, cfg.Verbose, out)
			stats, err := m.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			stats.Print(out)

			if !cfg.SkipVerify {
				fmt.Fprintln(out, "\n--- Verification ---")
				if err := Verify(cmd.Context(), source, target, stats.IDs); err != nil {
					return fmt.Errorf("verification failed: %w", err)
				}
				fmt.Fprintln(out, "Verification passed!")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")
	cmd.Flags().StringVar(&cfg.MySQL.Host, "mysql-host", "localhost", "MySQL host")
	cmd.Flags().StringVar(&cfg.MySQL.Port, "mysql-port", "3306", "MySQL port")
	cmd.Flags().StringVar(&cfg.MySQL.Username, "mysql-user", "ecosort", "MySQL username")
	cmd.Flags().StringVar(&cfg.MySQL.Password, "mysql-pass", "", "MySQL password")
	cmd.Flags().StringVar(&cfg.MySQL.Database, "mysql-database", "ecosort", "MySQL database name")
	cmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-export verification")
	cmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")
	cmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (for connection fallback)")

	return cmd
}
