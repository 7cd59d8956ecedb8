package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filigree/internal/app"
	"filigree/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if kind := domain.KindOf(err); kind != "" {
			os.Exit(exitCode(kind))
		}
		os.Exit(1)
	}
}

// exitCode gives scripts something to branch on without parsing messages.
func exitCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return 3
	case domain.KindValidation:
		return 4
	case domain.KindCycle, domain.KindConflict:
		return 5
	case domain.KindTransitionRejected, domain.KindHardGate:
		return 6
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "filigree",
		Short: "Workflow-aware issue tracker",
		Long: `filigree tracks issues whose lifecycle is defined per type by workflow templates.
Each type declares its states (open, wip or done), the transitions between them and
the fields a transition needs. Hard gates refuse a move until the fields are set; soft
gates record a warning. Blocking dependencies drive the ready queue and the critical
path, and claims hand out work to one agent at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	viper.SetEnvPrefix("FILIGREE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor", "", "actor recorded in the audit log")
	flags.String("log-level", "", "override logging.level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		initCmd(),
		typesCmd(),
		createCmd(),
		showCmd(),
		listCmd(),
		updateCmd(),
		closeCmd(),
		reopenCmd(),
		claimCmd(),
		releaseCmd(),
		claimNextCmd(),
		depCmd(),
		readyCmd(),
		blockedCmd(),
		criticalPathCmd(),
		transitionsCmd(),
		eventsCmd(),
		serveCmd(),
	)
	return root
}

// --- helpers ---

func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(cmd.Context(), app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogWriter: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func actor() string {
	return viper.GetString("actor")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printIssues(cmd *cobra.Command, items []domain.Issue) error {
	if viper.GetBool("json") {
		if items == nil {
			items = []domain.Issue{}
		}
		return printJSON(cmd.OutOrStdout(), items)
	}
	tw := newTable(cmd.OutOrStdout(), "ID", "Type", "Status", "P", "Assignee", "Title")
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.Type, it.Status, it.Priority, it.Assignee, it.Title})
	}
	tw.Render()
	return nil
}

func printIssue(cmd *cobra.Command, it domain.Issue, warnings []string) error {
	if viper.GetBool("json") {
		if warnings != nil {
			return printJSON(cmd.OutOrStdout(), map[string]any{"issue": it, "warnings": warnings})
		}
		return printJSON(cmd.OutOrStdout(), it)
	}
	w := cmd.OutOrStdout()
	tw := newTable(w, "Attribute", "Value")
	tw.AppendRow(table.Row{"id", it.ID})
	tw.AppendRow(table.Row{"type", it.Type})
	tw.AppendRow(table.Row{"title", it.Title})
	tw.AppendRow(table.Row{"status", fmt.Sprintf("%s (%s)", it.Status, it.StatusCategory)})
	tw.AppendRow(table.Row{"priority", it.Priority})
	if it.Assignee != "" {
		tw.AppendRow(table.Row{"assignee", it.Assignee})
	}
	if it.ParentID != nil {
		tw.AppendRow(table.Row{"parent", *it.ParentID})
	}
	if len(it.Labels) > 0 {
		tw.AppendRow(table.Row{"labels", strings.Join(it.Labels, ", ")})
	}
	if len(it.DependsOn) > 0 {
		tw.AppendRow(table.Row{"depends on", strings.Join(it.DependsOn, ", ")})
	}
	keys := make([]string, 0, len(it.Fields))
	for k := range it.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tw.AppendRow(table.Row{"field " + k, fmt.Sprint(it.Fields[k])})
	}
	tw.AppendRow(table.Row{"created", it.CreatedAt})
	tw.AppendRow(table.Row{"updated", it.UpdatedAt})
	if it.ClosedAt != nil {
		tw.AppendRow(table.Row{"closed", *it.ClosedAt})
	}
	tw.Render()
	if it.Description != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, it.Description)
	}
	for _, warn := range warnings {
		fmt.Fprintln(w, "warning:", warn)
	}
	return nil
}

// parseFields turns repeated key=value flags into a field map. Keys listed
// in unset map to nil, which clears them.
func parseFields(pairs, unset []string) (map[string]any, error) {
	if len(pairs) == 0 && len(unset) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs)+len(unset))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, domain.Validation("field %q must be key=value", p)
		}
		out[k] = v
	}
	for _, k := range unset {
		out[strings.TrimSpace(k)] = nil
	}
	return out, nil
}
