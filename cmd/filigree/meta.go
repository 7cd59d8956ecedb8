package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"filigree/internal/app"
	"filigree/internal/config"
	"filigree/internal/db"
	"filigree/internal/domain"
	"filigree/internal/server"
)

func initCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create filigree.yml and the workspace database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(config.Path(workspace)); errors.Is(err, fs.ErrNotExist) {
				cfg := config.Default()
				if prefix != "" {
					cfg.Project.Prefix = prefix
				}
				if err := config.Write(workspace, cfg); err != nil {
					return err
				}
				fmt.Fprintln(out, "wrote", config.Path(workspace))
			} else if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				for _, dir := range a.Loader.Dirs() {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "workspace ready (schema v%d, %d types: %s)\n", a.SchemaVersion, len(a.Registry.Types()), strings.Join(a.Registry.Types(), ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "id prefix for new issues (default fg)")
	return cmd
}

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types [type]",
		Short: "List issue types or show one type's workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					names := a.Registry.Types()
					if viper.GetBool("json") {
						return printJSON(out, names)
					}
					tw := newTable(out, "Type", "Pack", "Initial", "States")
					for _, name := range names {
						tpl, _ := a.Registry.Template(name)
						states := make([]string, 0, len(tpl.States))
						for _, s := range tpl.States {
							states = append(states, s.Name)
						}
						tw.AppendRow(table.Row{tpl.Type, tpl.Pack, tpl.InitialState, strings.Join(states, ", ")})
					}
					tw.Render()
					for _, w := range a.Registry.Warnings() {
						fmt.Fprintln(out, "warning:", w)
					}
					return nil
				}
				tpl, ok := a.Registry.Template(args[0])
				if !ok {
					return domain.NotFound("unknown issue type %q", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(out, tpl)
				}
				tw := newTable(out, "From", "To", "Gate", "Requires")
				for _, tr := range tpl.Transitions {
					tw.AppendRow(table.Row{tr.From, tr.To, tr.Enforcement, strings.Join(tr.RequiresFields, ", ")})
				}
				tw.Render()
				if len(tpl.FieldsSchema) > 0 {
					fw := newTable(out, "Field", "Type", "Options", "Required at")
					for _, f := range tpl.FieldsSchema {
						fw.AppendRow(table.Row{f.Name, f.Type, strings.Join(f.Options, ", "), strings.Join(f.RequiredAt, ", ")})
					}
					fw.Render()
				}
				return nil
			})
		},
	}
}

func transitionsCmd() *cobra.Command {
	var (
		to     string
		fields []string
	)
	cmd := &cobra.Command{
		Use:   "transitions <id>",
		Short: "List the moves available to an issue, or dry-run one with --to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFields(fields, nil)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if to != "" {
					res, err := a.Engine.ValidateTransition(ctx, args[0], to, f)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(out, res)
					}
					switch {
					case !res.Allowed:
						fmt.Fprintln(out, "rejected:", res.Reason)
					case len(res.Warnings) > 0:
						fmt.Fprintln(out, "allowed with warnings:", strings.Join(res.Warnings, "; "))
					default:
						fmt.Fprintln(out, "allowed")
					}
					return nil
				}
				opts, err := a.Engine.ValidTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out, opts)
				}
				tw := newTable(out, "To", "Category", "Gate", "Missing", "Ready")
				for _, o := range opts {
					tw.AppendRow(table.Row{o.To, o.Category, o.Enforcement, strings.Join(o.MissingFields, ", "), o.Ready})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "dry-run a move to this status")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field value to assume as key=value (repeatable)")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr     string
		basePath string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API with an OpenAPI document at <base-path>/openapi.json and docs at <base-path>/docs.
Bearer tokens are HS256 JWTs whose sub claim names the actor; set server.jwt_secret or
FILIGREE_JWT_SECRET to require them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if !cmd.Flags().Changed("addr") {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.Server.BasePath
				}
				if watch {
					cfg.Workflow.Watch = true
				}
				secret := cfg.Server.JWTSecret
				if env := viper.GetString("jwt_secret"); env != "" {
					secret = env
				}
				if secret == "" {
					a.Logger.Warn("no jwt secret configured; accepting anonymous requests")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Logger:   a.Logger.WithPrefix("http"),
					Auth: server.AuthConfig{
						JWTSecret:        secret,
						AllowActorHeader: cfg.Server.AllowActorHeader,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Logger.Info("serving", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "schema", a.SchemaVersion)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return a.WatchTemplates(ctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload templates when their files change")
	return cmd
}
