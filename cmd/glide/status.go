package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/config"
	"github.com/glideapp/glide-sync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local database and sync state",
	Long: `Show the engine state, queue depth, entity counts, and whether the
server is reachable. Works offline and without credentials; remote checks
degrade to "not logged in" or "unreachable".`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		db := openStore()
		defer db.Close()
		repos := newRepos(db)

		client := newClient(false)
		eng := newEngine(db, repos, client)

		snap, err := eng.Snapshot(ctx)
		if err != nil {
			fail("failed to read sync state: %v", err)
		}

		fmt.Println()
		fmt.Println(ui.Title("Glide Status"))
		fmt.Println()
		fmt.Println(ui.KV("State", ui.State(string(snap.State))))

		hydrated := "no (run 'glide hydrate')"
		if snap.Hydrated {
			hydrated = "yes"
		}
		fmt.Println(ui.KV("Hydrated", hydrated))

		lastSync := "never"
		if !snap.LastSyncAt.IsZero() {
			lastSync = humanize.Time(snap.LastSyncAt)
		}
		fmt.Println(ui.KV("Last sync", lastSync))
		fmt.Println(ui.KV("Queue", fmt.Sprintf("%d pending, %d failed", snap.Pending, snap.Failed)))
		if snap.LastError != "" {
			fmt.Println(ui.KV("Last error", ui.Dim(snap.LastError)))
		}

		notes, err := repos.Notes.Count(ctx)
		if err != nil {
			fail("failed to count notes: %v", err)
		}
		folders, err := repos.Folders.Count(ctx)
		if err != nil {
			fail("failed to count folders: %v", err)
		}
		actions, err := repos.Actions.Count(ctx)
		if err != nil {
			fail("failed to count actions: %v", err)
		}
		uploads, err := repos.Notes.ListPendingUploads(ctx)
		if err != nil {
			fail("failed to list pending uploads: %v", err)
		}

		noteLine := fmt.Sprintf("%d", notes)
		if len(uploads) > 0 {
			noteLine += fmt.Sprintf(" (%d recordings waiting for upload)", len(uploads))
		}
		fmt.Println()
		fmt.Println(ui.KV("Notes", noteLine))
		fmt.Println(ui.KV("Folders", fmt.Sprintf("%d", folders)))
		fmt.Println(ui.KV("Actions", fmt.Sprintf("%d", actions)))

		if info, err := os.Stat(cfg.Database.Path); err == nil {
			fmt.Println(ui.KV("Database", fmt.Sprintf("%s (%s)", cfg.Database.Path, humanize.Bytes(uint64(info.Size())))))
		}

		account := "not logged in"
		credsPath, err := config.CredentialsPath()
		if err == nil {
			switch creds, err := config.LoadCredentials(credsPath); {
			case err == nil && creds.Email != "":
				account = creds.Email
			case err == nil:
				account = "logged in"
			case !errors.Is(err, config.ErrNoCredentials):
				account = "credentials unreadable"
			}
		}
		fmt.Println()
		fmt.Println(ui.KV("Account", account))

		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		server := ui.Pass("reachable")
		if err := client.Ping(probeCtx); err != nil {
			server = ui.Warn("unreachable")
		}
		fmt.Println(ui.KV("Server", fmt.Sprintf("%s %s", cfg.API.BaseURL, server)))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
