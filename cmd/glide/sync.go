package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one push+pull round",
	Long: `Push queued local changes oldest-first, then pull remote changes since
the last round. Conflicts resolve to the most recent updated_at. A database
that has never been hydrated hydrates first.

Entries that fail with a retryable error stay queued and retry on later
rounds; permanently rejected entries park until 'glide queue retry'.`,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		eng := newEngine(db, repos, newClient(true))

		res, err := eng.Sync(cmd.Context())
		if err != nil {
			fail("sync failed: %v", err)
		}

		fmt.Println(ui.Pass("in sync: %d pushed, %d pulled, %d skipped in %v",
			res.Pushed, res.Pulled, res.Skipped, res.Duration.Round(time.Millisecond)))
		if res.Deferred > 0 {
			fmt.Println(ui.Bullet("%d deferred to the next round", res.Deferred))
		}
		if res.Failed > 0 {
			fmt.Println(ui.Warn("%d entries failed and will retry", res.Failed))
		}
		if res.Rejected > 0 {
			fmt.Println(ui.Warn("%d entries rejected by the server; inspect with 'glide queue ls'", res.Rejected))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
