package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newScanCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "One-shot scanner run over one project's content sources, or every project if --project is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()

			a, err := newApp(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitDBUnavailable)
			}
			defer a.close()

			sc := buildScanner(cfg, a.store)
			lister := allSourcesLister(a.store)
			if project != "" {
				projectID, err := resolveProjectID(ctx, a.store, project)
				if err != nil {
					fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
					os.Exit(exitOther)
				}
				lister = projectSourcesLister(a.store, projectID)
			}

			sources, err := lister(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: list sources: %v\n", err)
				os.Exit(exitOther)
			}

			var created, skipped int
			for _, ps := range sources {
				c, s, err := sc.Scan(ctx, ps.ProjectID, ps.Source, time.Now().UTC())
				if err != nil {
					fmt.Fprintf(os.Stderr, "publishctl: scan source %d: %v\n", ps.Source.ID, err)
					continue
				}
				created += c
				skipped += s
			}
			fmt.Printf("scanned %d sources: %d created, %d skipped\n", len(sources), created, skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict the scan to one project by name")
	return cmd
}
