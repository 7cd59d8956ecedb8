package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filigree/internal/app"
	"filigree/internal/domain"
	"filigree/internal/engine"
)

func claimCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Assign an open issue to an agent if nobody holds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignee == "" {
				assignee = actor()
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.ClaimIssue(ctx, args[0], assignee, actor())
				if err != nil {
					return err
				}
				return printIssue(cmd, it, nil)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "agent taking the issue (default: --actor)")
	return cmd
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Give up a claim held by --actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.ReleaseIssue(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printIssue(cmd, it, nil)
			})
		},
	}
}

func claimNextCmd() *cobra.Command {
	var (
		assignee string
		f        engine.ReadyFilter
	)
	cmd := &cobra.Command{
		Use:   "claim-next",
		Short: "Claim the highest-priority ready, unassigned issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignee == "" {
				assignee = actor()
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.ClaimNext(ctx, assignee, f)
				if err != nil {
					return err
				}
				if it == nil {
					if viper.GetBool("json") {
						return printJSON(cmd.OutOrStdout(), map[string]any{"claimed": false})
					}
					fmt.Fprintln(cmd.OutOrStdout(), "nothing ready to claim")
					return nil
				}
				return printIssue(cmd, *it, nil)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "agent taking the issue (default: --actor)")
	cmd.Flags().StringSliceVarP(&f.Types, "type", "t", nil, "restrict to types (comma separated)")
	cmd.Flags().StringVarP(&f.Label, "label", "l", "", "restrict to a label")
	return cmd
}

func depCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage blocking dependencies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <issue> <depends-on>",
		Short: "Record that an issue is blocked by another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Engine.AddDependency(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printDependency(cmd, args[0], args[1], changed, "added", "already present")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove <issue> <depends-on>",
		Aliases: []string{"rm"},
		Short:   "Drop a blocking dependency",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Engine.RemoveDependency(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printDependency(cmd, args[0], args[1], changed, "removed", "not present")
			})
		},
	})
	return cmd
}

func printDependency(cmd *cobra.Command, from, to string, changed bool, did, noop string) error {
	if viper.GetBool("json") {
		return printJSON(cmd.OutOrStdout(), map[string]any{"issue_id": from, "depends_on": to, "changed": changed})
	}
	msg := noop
	if changed {
		msg = did
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %s\n", from, to, msg)
	return nil
}

func readyCmd() *cobra.Command {
	var f engine.ReadyFilter
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List open issues with no unfinished blockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Ready(ctx, f)
				if err != nil {
					return err
				}
				return printIssues(cmd, items)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&f.Types, "type", "t", nil, "restrict to types (comma separated)")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "restrict to an assignee")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only issues nobody holds")
	cmd.Flags().StringVarP(&f.Label, "label", "l", "", "restrict to a label")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum results")
	return cmd
}

func blockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List open issues waiting on unfinished blockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Blocked(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []engine.BlockedIssue{}
					}
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := newTable(cmd.OutOrStdout(), "ID", "Status", "P", "Blocked by", "Title")
				for _, b := range items {
					tw.AppendRow(table.Row{b.Issue.ID, b.Issue.Status, b.Issue.Priority, strings.Join(b.BlockedBy, ", "), b.Issue.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func criticalPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "critical-path",
		Short: "Show the longest chain of unfinished blocking work",
		Long:  "The chain is printed from the issue to start with down to the one blocked the longest.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.CriticalPath(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no blocking chains")
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "#", "ID", "Status", "Title")
				for i, it := range items {
					tw.AppendRow(table.Row{i + 1, it.ID, it.Status, it.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [id]",
		Short: "Show the audit log, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Events(ctx, id, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []domain.Event{}
					}
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := newTable(cmd.OutOrStdout(), "Time", "Issue", "Event", "Actor", "Old", "New")
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.TS, ev.IssueID, ev.Type, ev.Actor, ev.OldValue, ev.NewValue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events")
	return cmd
}
