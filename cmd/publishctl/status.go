package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"publishengine/internal/store"
)

// isTTY mirrors the teacher's own isTTY() in cmd/cobra_cli.go: the status
// command's color/no-color decision.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	statusGreen  = color.New(color.FgGreen).SprintFunc()
	statusYellow = color.New(color.FgYellow).SprintFunc()
	statusRed    = color.New(color.FgRed).SprintFunc()
	statusBold   = color.New(color.Bold).SprintFunc()
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print task counts by status and database health (worker-pool and governor health are not reported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := context.Background()

			a, err := newApp(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitDBUnavailable)
			}
			defer a.close()

			counts, err := a.store.CountTasksByStatus(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				os.Exit(exitOther)
			}
			printCounts(counts)

			if err := a.store.Ping(ctx); err != nil {
				printStatusLine("db", "down", err.Error())
			} else {
				printStatusLine("db", "healthy", "")
			}
			return nil
		},
	}
}

func printCounts(counts map[store.TaskStatus]int) {
	tty := isTTY()
	fmt.Println(maybeBold(tty, "tasks by status:"))
	for _, status := range []store.TaskStatus{store.StatusPending, store.StatusRunning, store.StatusSuccess, store.StatusFailed} {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}
}

func printStatusLine(name, state, detail string) {
	label := name + ": " + state
	if !isTTY() {
		if detail != "" {
			label += " (" + detail + ")"
		}
		fmt.Println(label)
		return
	}
	switch state {
	case "healthy":
		fmt.Println(statusGreen(label))
	case "degraded":
		fmt.Println(statusYellow(label + " (" + detail + ")"))
	default:
		fmt.Println(statusRed(label + " (" + detail + ")"))
	}
}

func maybeBold(tty bool, s string) string {
	if !tty {
		return s
	}
	return statusBold(s)
}
