package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance: reset, backup, migrate",
	}
	cmd.AddCommand(newDBResetCommand())
	cmd.AddCommand(newDBBackupCommand())
	cmd.AddCommand(newDBMigrateCommand())
	return cmd
}

func newDBResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every table (destructive; confirm out of band before running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitDBUnavailable)
			}
			defer a.close()
			if err := a.store.Reset(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitOther)
			}
			fmt.Println("schema reset")
			return nil
		},
	}
}

func newDBMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the current schema (idempotent CREATE TABLE IF NOT EXISTS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitDBUnavailable)
			}
			defer a.close()
			version, err := a.store.SchemaVersion(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitOther)
			}
			fmt.Printf("schema at version %d\n", version)
			return nil
		},
	}
}

func newDBBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Dump the database to <path> via pg_dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			out, err := os.Create(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitOther)
			}
			defer out.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			dump := exec.CommandContext(ctx, "pg_dump", cfg.DB.URL)
			dump.Stdout = out
			dump.Stderr = os.Stderr
			if err := dump.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: pg_dump: %v\n", err)
				os.Exit(exitOther)
			}
			fmt.Printf("backup written to %s\n", args[0])
			return nil
		},
	}
}
