package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/ui"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	GroupID: "data",
	Short:   "Organize notes into folders",
	Long: `Manage the folder tree. Folders nest arbitrarily deep; moves and
renames sync like any other change.

The stock set ("All Notes" plus Work, Personal, Ideas) is seeded on first
use; "All Notes" is a system folder and cannot be renamed, moved, or
deleted.`,
}

var folderAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a folder",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		parentRef, _ := cmd.Flags().GetString("parent")
		icon, _ := cmd.Flags().GetString("icon")
		color, _ := cmd.Flags().GetString("color")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		parentID := ""
		if parentRef != "" {
			parent, err := resolveFolder(ctx, repos, parentRef)
			if err != nil {
				fail("%v", err)
			}
			parentID = parent.ID
		}

		folder := model.NewFolder(strings.Join(args, " "), icon, color, parentID)
		if err := repos.Folders.Create(ctx, folder); err != nil {
			if errors.Is(err, repo.ErrDuplicateName) {
				fail("a folder named %q already exists", folder.Name)
			}
			fail("failed to create folder: %v", err)
		}
		fmt.Println(ui.Pass("created folder %q", folder.Name))
	},
}

var folderLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list", "tree"},
	Short:   "Show the folder tree",
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		folders, err := repos.Folders.List(ctx)
		if err != nil {
			fail("failed to list folders: %v", err)
		}

		// Count once instead of one query per row.
		counts := map[string]int{}
		notes, err := repos.Notes.List(ctx, repo.ListNotesOptions{})
		if err != nil {
			fail("failed to count notes: %v", err)
		}
		for _, n := range notes {
			counts[n.FolderID]++
		}

		fmt.Println()
		for _, f := range folders {
			indent := strings.Repeat("  ", f.Depth)
			line := indent + ui.Bullet("%s", f.Name)
			if f.IsSystem {
				line += " " + ui.Dim("(system)")
			}
			if c := counts[f.ID]; c > 0 {
				line += " " + ui.Dim(fmt.Sprintf("%d", c))
			}
			fmt.Println(line)
		}
		if unfiled := counts[""]; unfiled > 0 {
			fmt.Println(ui.Dim(fmt.Sprintf("+ %d unfiled", unfiled)))
		}
		fmt.Println()
	},
}

var folderMvCmd = &cobra.Command{
	Use:     "mv <folder>",
	Aliases: []string{"move"},
	Short:   "Move a folder under a new parent",
	Long: `Reparent a folder. --parent names the destination (omit it to move to
the root); --position slots the folder among its new siblings, where 0 is
first and anything past the end appends.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		parentRef, _ := cmd.Flags().GetString("parent")
		position, _ := cmd.Flags().GetInt("position")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		folder, err := resolveFolder(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		parentID := ""
		parentName := "the root"
		if parentRef != "" {
			parent, err := resolveFolder(ctx, repos, parentRef)
			if err != nil {
				fail("%v", err)
			}
			parentID = parent.ID
			parentName = fmt.Sprintf("%q", parent.Name)
		}

		if err := repos.Folders.Move(ctx, folder.ID, parentID, position); err != nil {
			switch {
			case errors.Is(err, repo.ErrCycle):
				fail("cannot move %q inside itself", folder.Name)
			case errors.Is(err, repo.ErrSystemFolder):
				fail("%q is a system folder and cannot move", folder.Name)
			default:
				fail("move failed: %v", err)
			}
		}
		fmt.Println(ui.Pass("moved %q under %s", folder.Name, parentName))
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <folder> <new-name>",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		folder, err := resolveFolder(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		old := folder.Name
		folder.Name = args[1]
		if err := repos.Folders.Update(ctx, folder); err != nil {
			switch {
			case errors.Is(err, repo.ErrSystemFolder):
				fail("%q is a system folder and cannot be renamed", old)
			case errors.Is(err, repo.ErrDuplicateName):
				fail("a folder named %q already exists", folder.Name)
			default:
				fail("rename failed: %v", err)
			}
		}
		fmt.Println(ui.Pass("renamed %q to %q", old, folder.Name))
	},
}

var folderRmCmd = &cobra.Command{
	Use:     "rm <folder>",
	Aliases: []string{"delete"},
	Short:   "Delete an empty folder",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		folder, err := resolveFolder(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		if err := repos.Folders.Delete(ctx, folder.ID); err != nil {
			switch {
			case errors.Is(err, repo.ErrSystemFolder):
				fail("%q is a system folder and cannot be deleted", folder.Name)
			case errors.Is(err, repo.ErrFolderNotEmpty):
				fail("%q still holds notes or subfolders; move them out first", folder.Name)
			default:
				fail("delete failed: %v", err)
			}
		}
		fmt.Println(ui.Pass("deleted folder %q", folder.Name))
	},
}

// resolveFolder accepts a folder ID, a unique ID prefix, or a name.
// Names match case-insensitively against live folders.
func resolveFolder(ctx context.Context, repos *repo.Repos, ref string) (*model.Folder, error) {
	folder, err := repos.Folders.GetByID(ctx, ref)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	folders, err := repos.Folders.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.Folder
	for _, f := range folders {
		if !strings.EqualFold(f.Name, ref) && !strings.HasPrefix(f.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("folder %q is ambiguous", ref)
		}
		match = f
	}
	if match == nil {
		return nil, fmt.Errorf("no folder matches %q", ref)
	}
	return match, nil
}

func init() {
	folderAddCmd.Flags().StringP("parent", "p", "", "parent folder (name or id)")
	folderAddCmd.Flags().String("icon", "folder", "icon name")
	folderAddCmd.Flags().String("color", "", "hex color, e.g. #4A90D9")

	folderMvCmd.Flags().StringP("parent", "p", "", "destination folder (name or id; empty = root)")
	folderMvCmd.Flags().Int("position", -1, "position among the new siblings (-1 = append)")

	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderLsCmd)
	folderCmd.AddCommand(folderMvCmd)
	folderCmd.AddCommand(folderRenameCmd)
	folderCmd.AddCommand(folderRmCmd)
	rootCmd.AddCommand(folderCmd)
}
