package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRunOnceCommand() *cobra.Command {
	var project string
	var limit int
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Claim and execute up to --limit due tasks, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()

			a, err := newApp(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitDBUnavailable)
			}
			defer a.close()

			if project != "" {
				if _, err := resolveProjectID(ctx, a.store, project); err != nil {
					fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
					os.Exit(exitOther)
				}
				fmt.Fprintln(os.Stderr, "publishctl: warning: --project only validates the name exists; the claim itself still draws from the global due-task queue")
			}

			gen := buildGenerator(cfg.Generator)
			pub := buildPublisher(cfg.Publisher)
			loc, err := cfg.Location()
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitConfigError)
			}
			gov, err := buildGovernor(cfg.Rate, loc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitConfigError)
			}

			pool := newWorkerPool(cfg, a.store, gen, pub, gov)
			succeeded, failed, err := pool.RunOnce(ctx, limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitOther)
			}
			fmt.Printf("run-once: %d succeeded, %d failed\n", succeeded, failed)
			if failed > 0 {
				os.Exit(exitPartialFailure)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict execution to one project by name (validated, not yet enforced on claim)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of tasks to claim and execute")
	return cmd
}
