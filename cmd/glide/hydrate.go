package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/ui"
)

var hydrateCmd = &cobra.Command{
	Use:     "hydrate",
	GroupID: "sync",
	Short:   "One-time initial pull into an empty local database",
	Long: `Pull every note, folder, and action from the server into the local
database. Hydration runs exactly once: a bootstrap marker is persisted with
the data, and later calls return immediately. An interrupted hydration
reruns from scratch on the next call without duplicating rows.

Work created offline before hydration survives: the round pushes the queue
after the initial pull.`,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		eng := newEngine(db, repos, newClient(true))

		if err := eng.Hydrate(cmd.Context()); err != nil {
			fail("hydration failed: %v", err)
		}

		p := eng.Progress()
		fmt.Println(ui.Pass("hydrated: %d pulled, %d pushed in %v",
			p.Round.Pulled, p.Round.Pushed, p.Round.Duration.Round(time.Millisecond)))
	},
}

func init() {
	rootCmd.AddCommand(hydrateCmd)
}
