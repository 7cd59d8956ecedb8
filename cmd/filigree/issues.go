package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filigree/internal/app"
	"filigree/internal/engine"
)

func createCmd() *cobra.Command {
	var (
		opts     engine.IssueCreateOptions
		priority int
		fields   []string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an issue in its type's initial state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			opts.Actor = actor()
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			f, err := parseFields(fields, nil)
			if err != nil {
				return err
			}
			opts.Fields = f
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printIssue(cmd, it, nil)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "issue id (generated from the project prefix when omitted)")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "task", "issue type")
	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "description")
	cmd.Flags().IntVarP(&priority, "priority", "p", 2, "priority 0 (highest) to 4")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent issue id")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field value as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Labels, "label", "l", nil, "label (repeatable)")
	cmd.Flags().StringArrayVar(&opts.DependsOn, "depends-on", nil, "blocking issue id (repeatable)")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printIssue(cmd, it, nil)
			})
		},
	}
}

func listCmd() *cobra.Command {
	var f engine.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				return printIssues(cmd, items)
			})
		},
	}
	cmd.Flags().StringVarP(&f.Type, "type", "t", "", "type filter")
	cmd.Flags().StringVarP(&f.Status, "status", "s", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "status category filter (open, wip, done)")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent filter")
	cmd.Flags().StringVarP(&f.Label, "label", "l", "", "label filter")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum results")
	return cmd
}

func updateCmd() *cobra.Command {
	var (
		title, description, assignee, parent string
		priority                             int
		fields, unset                        []string
		opts                                 engine.IssueUpdateOptions
	)
	cmd := &cobra.Command{
		Use:   "update <id> [id...]",
		Short: "Update issues; a status change goes through the type's gates",
		Long: `Update one or more issues. Every requested change is applied or none is.
Fields given with --field are merged before the status gate is checked, so one call can
set a required field and move through the transition it guards. --override skips the
transition table but still enforces hard field requirements.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("assignee") {
				opts.Assignee = &assignee
			}
			if flags.Changed("parent") {
				opts.ParentID = &parent
			}
			if flags.Changed("priority") {
				opts.Priority = &priority
			}
			f, err := parseFields(fields, unset)
			if err != nil {
				return err
			}
			opts.Fields = f
			opts.Actor = actor()
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					opts.ID = args[0]
					res, err := a.Engine.UpdateIssue(ctx, opts)
					if err != nil {
						return err
					}
					return printIssue(cmd, res.Issue, res.Warnings)
				}
				return printBatch(cmd, a.Engine.BatchUpdate(ctx, args, opts))
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee (empty clears)")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent id (empty clears)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 2, "new priority")
	cmd.Flags().StringVarP(&opts.Status, "status", "s", "", "target status")
	cmd.Flags().BoolVar(&opts.Override, "override", false, "allow a status change not declared in the transition table")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field value as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "field to clear (repeatable)")
	return cmd
}

func closeCmd() *cobra.Command {
	var (
		opts   engine.CloseOptions
		fields []string
	)
	cmd := &cobra.Command{
		Use:   "close <id> [id...]",
		Short: "Close issues into a done state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFields(fields, nil)
			if err != nil {
				return err
			}
			opts.Fields = f
			opts.Actor = actor()
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					res, err := a.Engine.CloseIssue(ctx, args[0], opts)
					if err != nil {
						return err
					}
					return printIssue(cmd, res.Issue, res.Warnings)
				}
				return printBatch(cmd, a.Engine.BatchClose(ctx, args, opts))
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Status, "status", "s", "", "done state to close into (default: the type's first)")
	cmd.Flags().StringVarP(&opts.Reason, "reason", "r", "", "reason recorded on the close event")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field value as key=value (repeatable)")
	return cmd
}

func reopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Return a closed issue to its initial state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ReopenIssue(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printIssue(cmd, res.Issue, res.Warnings)
			})
		},
	}
}

func printBatch(cmd *cobra.Command, results []engine.BatchResult) error {
	failed := engine.Failed(results)
	if viper.GetBool("json") {
		if err := printJSON(cmd.OutOrStdout(), map[string]any{"results": results, "failed": failed}); err != nil {
			return err
		}
	} else {
		tw := newTable(cmd.OutOrStdout(), "ID", "Result", "Status / Error")
		for _, r := range results {
			if r.Err != nil {
				tw.AppendRow([]any{r.ID, r.Kind, r.Error})
				continue
			}
			tw.AppendRow([]any{r.ID, "ok", r.Issue.Status})
		}
		tw.Render()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d issues failed", failed, len(results))
	}
	return nil
}
