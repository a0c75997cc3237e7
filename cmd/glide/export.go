package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/export"
	"github.com/glideapp/glide-sync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export the local store as JSONL",
	Long: `Stream every live folder, note, and action as JSONL, one record per
line, for backup or debugging. Writes to stdout unless a file is given.
Tombstones are skipped; the server remains the authority on deletions.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				fail("failed to create %s: %v", args[0], err)
			}
			defer f.Close()
			out = f
		}

		res, err := export.Export(cmd.Context(), repos, out)
		if err != nil {
			fail("export failed: %v", err)
		}
		fmt.Fprintln(os.Stderr, ui.Pass("exported %d folders, %d notes, %d actions",
			res.Folders, res.Notes, res.Actions))
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Restore a JSONL export into an empty local database",
	Long: `Restore a stream written by 'glide export'. The database must be empty;
restored rows keep their local ids and are marked pending, so the next
sync round pushes everything back to the server.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			fail("failed to open %s: %v", args[0], err)
		}
		defer f.Close()

		db := openStore()
		defer db.Close()
		repos := newRepos(db)

		res, err := export.Import(cmd.Context(), repos, f)
		if err != nil {
			fail("import failed: %v", err)
		}
		fmt.Println(ui.Pass("restored %d folders, %d notes, %d actions",
			res.Folders, res.Notes, res.Actions))
		fmt.Println(ui.Dim("next: glide sync"))
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
