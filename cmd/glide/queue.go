package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and retry the change queue",
	Long: `Every local mutation lands in a durable queue and drains to the server
in order. 'queue ls' shows what is still waiting; 'queue retry' revives
failed and rejected entries with a fresh attempt budget.`,
}

var queueLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List queued changes",
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)

		entries, err := repos.Queue.All(cmd.Context())
		if err != nil {
			fail("failed to read queue: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println(ui.Pass("queue is empty"))
			return
		}

		fmt.Println()
		for _, e := range entries {
			fmt.Printf("#%-4d %-7s %-6s %-9s %s attempts=%d %s\n",
				e.ID, e.EntityType, e.Op, shortID(e.EntityID),
				ui.State(string(e.Status)), e.Attempts, ui.Dim(humanize.Time(e.CreatedAt)))
			if e.LastError != "" {
				fmt.Println("      " + ui.Dim(truncate(e.LastError, 100)))
			}
		}
		fmt.Println()
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Revive failed and rejected entries",
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)

		n, err := repos.Queue.RetryAllFailed(cmd.Context())
		if err != nil {
			fail("retry failed: %v", err)
		}
		if n == 0 {
			fmt.Println(ui.Pass("nothing to retry"))
			return
		}
		fmt.Println(ui.Pass("%d entries queued for retry", n))
		fmt.Println(ui.Dim("next: glide sync"))
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	queueCmd.AddCommand(queueLsCmd)
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
