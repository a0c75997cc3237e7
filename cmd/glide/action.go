package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/model"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/ui"
)

var actionCmd = &cobra.Command{
	Use:     "action",
	GroupID: "data",
	Short:   "Track actions extracted from notes",
	Long: `Actions are the structured follow-ups attached to a note: calendar
events, email drafts, reminders, next steps. The extraction pipeline
creates most of them; 'action add' covers the ones you spot yourself.

Marking an action done records the external reference (calendar event id,
mail message id) so it is never executed twice.`,
}

// dueParser understands "tomorrow 9am", "next friday", "in 2 hours".
var dueParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

var actionAddCmd = &cobra.Command{
	Use:   "add <note> <title>",
	Short: "Attach an action to a note",
	Long: `Attach an action to a note. <note> is a note id (or unique prefix).

Examples:
  glide action add 8f3a01c2 "Send the onboarding doc" --due "friday 10am"
  glide action add 8f3a01c2 "Book the follow-up" --type calendar --priority high`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		typeStr, _ := cmd.Flags().GetString("type")
		priorityStr, _ := cmd.Flags().GetString("priority")
		details, _ := cmd.Flags().GetString("details")
		dueStr, _ := cmd.Flags().GetString("due")

		typ := model.ActionType(typeStr)
		if !typ.IsValid() {
			fail("unknown action type %q (calendar, email, reminder, next_step)", typeStr)
		}
		priority := model.Priority(priorityStr)
		if !priority.IsValid() {
			fail("unknown priority %q (high, medium, low)", priorityStr)
		}

		var dueAt *time.Time
		if dueStr != "" {
			r, err := dueParser.Parse(dueStr, time.Now())
			if err != nil || r == nil {
				fail("could not read %q as a time; try something like \"tomorrow 9am\"", dueStr)
			}
			t := r.Time.UTC()
			dueAt = &t
		}

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()
		ensureDefaults(ctx, repos)

		note, err := resolveNote(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}

		action := model.NewAction(note.ID, typ, strings.Join(args[1:], " "))
		action.Priority = priority
		action.Details = details
		action.DueAt = dueAt

		if err := repos.Actions.Create(ctx, action); err != nil {
			fail("failed to create action: %v", err)
		}
		fmt.Println(ui.Pass("added %s action to %q", typ, note.Title))
		if dueAt != nil {
			fmt.Println(ui.Dim("due " + humanize.Time(*dueAt)))
		}
	},
}

var actionLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List actions, soonest due first",
	Run: func(cmd *cobra.Command, args []string) {
		noteRef, _ := cmd.Flags().GetString("note")
		statusStr, _ := cmd.Flags().GetString("status")
		typeStr, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		var actions []*model.Action
		var err error
		if noteRef != "" {
			var note *model.Note
			note, err = resolveNote(ctx, repos, noteRef)
			if err != nil {
				fail("%v", err)
			}
			actions, err = repos.Actions.ListByNote(ctx, note.ID)
		} else {
			opts := repo.ListActionsOptions{Limit: limit}
			if statusStr != "" {
				opts.Status = model.ActionStatus(statusStr)
				if !opts.Status.IsValid() {
					fail("unknown status %q (pending, created, executed, failed, cancelled)", statusStr)
				}
			}
			if typeStr != "" {
				opts.Type = model.ActionType(typeStr)
				if !opts.Type.IsValid() {
					fail("unknown action type %q (calendar, email, reminder, next_step)", typeStr)
				}
			}
			actions, err = repos.Actions.List(ctx, opts)
		}
		if err != nil {
			fail("failed to list actions: %v", err)
		}
		if len(actions) == 0 {
			fmt.Println(ui.Dim("no actions"))
			return
		}

		fmt.Println()
		for _, a := range actions {
			printActionRow(a)
		}
		fmt.Println()
	},
}

var actionDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark an action executed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref, _ := cmd.Flags().GetString("ref")

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		action, err := resolveAction(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		executed, err := repos.Actions.MarkExecuted(ctx, action.ID, ref)
		if err != nil {
			fail("failed to mark executed: %v", err)
		}
		fmt.Println(ui.Pass("done: %s", executed.Title))
	},
}

var actionRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete an action",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		ctx := cmd.Context()

		action, err := resolveAction(ctx, repos, args[0])
		if err != nil {
			fail("%v", err)
		}
		if err := repos.Actions.Delete(ctx, action.ID); err != nil {
			fail("failed to delete action: %v", err)
		}
		fmt.Println(ui.Pass("deleted action %q", action.Title))
	},
}

func printActionRow(a *model.Action) {
	fmt.Printf("  %s %-9s %s  %s\n",
		ui.Dim(shortID(a.ID)), a.Type, ui.Bold(a.Title), ui.State(string(a.Status)))

	var details []string
	if a.DueAt != nil {
		details = append(details, "due "+humanize.Time(*a.DueAt))
	}
	if a.Priority == model.PriorityHigh {
		details = append(details, "high priority")
	}
	if a.Details != "" {
		details = append(details, truncate(a.Details, 60))
	}
	if a.ExternalRef != "" {
		details = append(details, "ref "+a.ExternalRef)
	}
	if len(details) > 0 {
		fmt.Println("           " + ui.Dim(strings.Join(details, " · ")))
	}
}

// resolveAction accepts a full action ID or a unique prefix.
func resolveAction(ctx context.Context, repos *repo.Repos, ref string) (*model.Action, error) {
	action, err := repos.Actions.GetByID(ctx, ref)
	if err == nil {
		return action, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	all, err := repos.Actions.List(ctx, repo.ListActionsOptions{})
	if err != nil {
		return nil, err
	}
	var match *model.Action
	for _, a := range all {
		if !strings.HasPrefix(a.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("action id %q is ambiguous", ref)
		}
		match = a
	}
	if match == nil {
		return nil, fmt.Errorf("no action matches %q", ref)
	}
	return match, nil
}

func init() {
	actionAddCmd.Flags().StringP("type", "T", "reminder", "calendar, email, reminder, or next_step")
	actionAddCmd.Flags().String("priority", "medium", "high, medium, or low")
	actionAddCmd.Flags().String("details", "", "free-form details")
	actionAddCmd.Flags().String("due", "", "natural-language due time (\"tomorrow 9am\", \"next friday\")")

	actionLsCmd.Flags().String("note", "", "only actions on this note (id or prefix)")
	actionLsCmd.Flags().String("status", "", "filter by status")
	actionLsCmd.Flags().StringP("type", "T", "", "filter by type")
	actionLsCmd.Flags().IntP("limit", "n", 50, "maximum actions to show")

	actionCmd.AddCommand(actionAddCmd)
	actionCmd.AddCommand(actionLsCmd)
	actionCmd.AddCommand(actionDoneCmd)
	actionCmd.AddCommand(actionRmCmd)
	rootCmd.AddCommand(actionCmd)
}
