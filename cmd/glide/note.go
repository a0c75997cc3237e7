package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "data",
	Short:   "Create and browse voice notes",
	Long: `Work with the local note database. Every mutation is queued for sync
automatically; nothing here talks to the network.

Notes are soft-deleted: 'note rm' keeps the row as a tombstone so the
deletion propagates to the server, and 'note restore' brings it back.`,
}

var noteAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a note",
	Long: `Create a note with the given title.

The transcript normally arrives from the recorder; --transcript sets it
directly. --audio points at a local recording that the daemon uploads on
the next round.

Examples:
  glide note add "Standup recap" --transcript "Shipped the importer..."
  glide note add "Call with Dana" -f Clients --audio ~/rec/dana.m4a --pin`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		transcript, _ := cmd.Flags().GetString("transcript")
		folderRef, _ := cmd.Flags().GetString("folder")
		audio, _ := cmd.Flags().GetString("audio")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		pin, _ := cmd.Flags().GetBool("pin")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		note := model.NewNote(strings.Join(args, " "), transcript)
		note.LocalAudioPath = audio
		note.IsPinned = pin
		if len(tags) > 0 {
			note.Tags = tags
		}
		if folderRef != "" {
			folder, err := resolveFolder(ctx, repos, folderRef)
			if err != nil {
				fail("%v", err)
			}
			note.FolderID = folder.ID
		}

		if err := repos.Notes.Create(ctx, note); err != nil {
			fail("failed to create note: %v", err)
		}
		fmt.Println(ui.Pass("created note %s", shortID(note.ID)))
		if audio != "" {
			fmt.Println(ui.Dim("recording uploads on the next daemon round"))
		}
	},
}

var noteLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List notes",
	Run: func(cmd *cobra.Command, args []string) {
		folderRef, _ := cmd.Flags().GetString("folder")
		limit, _ := cmd.Flags().GetInt("limit")
		pinned, _ := cmd.Flags().GetBool("pinned")
		deleted, _ := cmd.Flags().GetBool("deleted")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		opts := repo.ListNotesOptions{
			PinnedOnly:     pinned,
			IncludeDeleted: deleted,
			Limit:          limit,
		}
		if folderRef != "" {
			folder, err := resolveFolder(ctx, repos, folderRef)
			if err != nil {
				fail("%v", err)
			}
			opts.FolderID = folder.ID
		}

		notes, err := repos.Notes.List(ctx, opts)
		if err != nil {
			fail("failed to list notes: %v", err)
		}
		if len(notes) == 0 {
			fmt.Println(ui.Dim("no notes"))
			return
		}
		printNoteRows(ctx, repos, notes)
	},
}

var noteSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over titles and transcripts",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		query := strings.Join(args, " ")
		notes, err := repos.Notes.Search(ctx, query, limit)
		if err != nil {
			fail("search failed: %v", err)
		}
		if len(notes) == 0 {
			fmt.Println(ui.Dim(fmt.Sprintf("no notes match %q", query)))
			return
		}
		printNoteRows(ctx, repos, notes)
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a note with its transcript and actions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		note, err := resolveNote(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}

		fmt.Println()
		fmt.Println(ui.Title(note.Title))
		fmt.Println(ui.KV("ID", note.ID))
		if note.ServerID != "" {
			fmt.Println(ui.KV("Server ID", note.ServerID))
		}
		if note.FolderID != "" {
			if path, err := repos.Folders.GetPath(ctx, note.FolderID); err == nil {
				names := make([]string, len(path))
				for i, f := range path {
					names[i] = f.Name
				}
				fmt.Println(ui.KV("Folder", strings.Join(names, " / ")))
			}
		}
		if len(note.Tags) > 0 {
			fmt.Println(ui.KV("Tags", strings.Join(note.Tags, ", ")))
		}
		if note.DurationSeconds > 0 {
			fmt.Println(ui.KV("Duration", fmtSeconds(note.DurationSeconds)))
		}
		fmt.Println(ui.KV("Created", humanize.Time(note.CreatedAt)))
		fmt.Println(ui.KV("Sync", ui.State(string(note.SyncStatus))))
		if note.IsDeleted {
			fmt.Println(ui.Warn("deleted; 'glide note restore %s' brings it back", shortID(note.ID)))
		}
		if note.Transcript != "" {
			fmt.Println()
			fmt.Println(note.Transcript)
		}
		if note.Summary != "" {
			fmt.Println()
			fmt.Println(ui.Bold("Summary"))
			fmt.Println(note.Summary)
		}

		actions, err := repos.Actions.ListByNote(ctx, note.ID)
		if err == nil && len(actions) > 0 {
			fmt.Println()
			fmt.Println(ui.Bold("Actions"))
			for _, a := range actions {
				printActionRow(a)
			}
		}
		fmt.Println()
	},
}

var noteRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a note (soft; propagates to the server)",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		note, err := resolveNote(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		if err := repos.Notes.Delete(ctx, note.ID); err != nil {
			fail("failed to delete note: %v", err)
		}
		fmt.Println(ui.Pass("deleted %q", note.Title))
		fmt.Println(ui.Dim("undo with: glide note restore " + shortID(note.ID)))
	},
}

var noteRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Undo a note deletion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		note, err := resolveNote(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		restored, err := repos.Notes.Restore(ctx, note.ID)
		if err != nil {
			fail("failed to restore note: %v", err)
		}
		fmt.Println(ui.Pass("restored %q", restored.Title))
	},
}

// printNoteRows renders one line per note plus a dim detail line.
func printNoteRows(ctx context.Context, repos *repo.Repos, notes []*model.Note) {
	folderNames := map[string]string{}
	if folders, err := repos.Folders.List(ctx); err == nil {
		for _, f := range folders {
			folderNames[f.ID] = f.Name
		}
	}

	fmt.Println()
	for _, n := range notes {
		marker := " "
		if n.IsPinned {
			marker = "*"
		}
		title := n.Title
		if n.IsDeleted {
			title += " (deleted)"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, ui.Dim(shortID(n.ID)), ui.Bold(title), ui.State(string(n.SyncStatus)))

		details := []string{humanize.Time(n.UpdatedAt)}
		if name, ok := folderNames[n.FolderID]; ok && n.FolderID != "" {
			details = append(details, name)
		}
		if len(n.Tags) > 0 {
			details = append(details, "#"+strings.Join(n.Tags, " #"))
		}
		if n.DurationSeconds > 0 {
			details = append(details, fmtSeconds(n.DurationSeconds))
		}
		fmt.Println("           " + ui.Dim(strings.Join(details, " · ")))
	}
	fmt.Println()
}

// resolveNote accepts a full note ID or a unique prefix of one, the way
// 'note ls' prints them.
func resolveNote(ctx context.Context, repos *repo.Repos, ref string) (*model.Note, error) {
	note, err := repos.Notes.GetByID(ctx, ref)
	if err == nil {
		return note, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	all, err := repos.Notes.List(ctx, repo.ListNotesOptions{IncludeDeleted: true, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	var match *model.Note
	for _, n := range all {
		if !strings.HasPrefix(n.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("note id %q is ambiguous", ref)
		}
		match = n
	}
	if match == nil {
		return nil, fmt.Errorf("no note matches %q", ref)
	}
	return match, nil
}

func fmtSeconds(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	return d.String()
}

func init() {
	noteAddCmd.Flags().String("transcript", "", "transcript text")
	noteAddCmd.Flags().StringP("folder", "f", "", "folder name or id")
	noteAddCmd.Flags().String("audio", "", "path to a local recording to upload")
	noteAddCmd.Flags().StringSlice("tag", nil, "tag (repeatable)")
	noteAddCmd.Flags().Bool("pin", false, "pin the note")

	noteLsCmd.Flags().StringP("folder", "f", "", "only notes in this folder (name or id)")
	noteLsCmd.Flags().IntP("limit", "n", 50, "maximum notes to show")
	noteLsCmd.Flags().Bool("pinned", false, "only pinned notes")
	noteLsCmd.Flags().Bool("deleted", false, "include soft-deleted notes")

	noteSearchCmd.Flags().IntP("limit", "n", 20, "maximum results")

	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteLsCmd)
	noteCmd.AddCommand(noteSearchCmd)
	noteCmd.AddCommand(noteShowCmd)
	noteCmd.AddCommand(noteRmCmd)
	noteCmd.AddCommand(noteRestoreCmd)
	rootCmd.AddCommand(noteCmd)
}
