package main

import (
	"context"
	"time"

	"github.com/JonMunkholm/imoveis/internal/application"
	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{Migrate: true}, func(ctx context.Context, app *application.App) error {
				return c.print(cmd, map[string]string{"status": "migrated"}, func(p *printer) {
					p.line("schema is up to date")
				})
			})
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default entry of every empty dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				n, err := app.Service.SeedDefaults(ctx)
				if err != nil {
					return err
				}
				return c.print(cmd, map[string]int{"inserted": n}, func(p *printer) {
					p.linef("%d default entr(ies) inserted", n)
				})
			})
		},
	}
}

func (c *cli) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				if err := app.DB.Ping(ctx); err != nil {
					return err
				}
				return c.print(cmd, map[string]string{"database": app.DB.DatabaseName(), "status": "ok"}, func(p *printer) {
					p.linef("ok: %s", app.DB.DatabaseName())
				})
			})
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <category> <name>",
		Short: "Resolve a category name to its dictionary id",
		Long: "Resolve runs the same resolution as a record write. For categories with a\n" +
			"default fallback an unknown name yields the default entry, creating it if\n" +
			"the dictionary is empty.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				id, err := app.Service.ResolveReference(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.print(cmd, map[string]any{"category": args[0], "id": id}, func(p *printer) {
					if id == nil {
						p.line("unset")
						return
					}
					p.linef("%d", *id)
				})
			})
		},
	}
}

func (c *cli) referencesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "references <category>",
		Short: "List the entries of a category dictionary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				entries, err := app.Service.ListReferences(ctx, args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, entries, func(p *printer) { p.references(entries) })
			})
		},
	}
}

func (c *cli) hierarchyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy <record-id>",
		Short: "Show a record with its parent and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				h, err := app.Service.GetHierarchy(ctx, args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, h, func(p *printer) { p.hierarchy(h) })
			})
		},
	}
}

func (c *cli) dependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents",
		Short: "List the tables a record deletion touches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				deps, err := app.Service.DiscoverDependents(ctx)
				if err != nil {
					return err
				}
				return c.print(cmd, deps, func(p *printer) { p.dependents(deps) })
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Delete a record and every row referencing it",
		Long: "Delete removes the record and its dependent rows in one transaction.\n" +
			"A record with children is refused unless --cascade is given; the\n" +
			"children are then listed and the command exits with status 3.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				result, err := app.Service.DeleteRecord(ctx, args[0], cascade)
				if err != nil {
					if children := core.ChildrenOf(err); len(children) > 0 && !c.jsonOutput {
						newPrinter(cmd.ErrOrStderr()).children(children)
					}
					return err
				}
				return c.print(cmd, result, func(p *printer) { p.deleteResult(result) })
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete child records")
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	var opts core.AuditLogOptions
	var action string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Action = core.AuditAction(action)
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				entries, err := app.Service.AuditLog(ctx, opts)
				if err != nil {
					return err
				}
				return c.print(cmd, entries, func(p *printer) { p.audit(entries) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "only entries for this record id")
	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&opts.Limit, "limit", core.DefaultAuditLimit, "maximum entries")
	return cmd
}

func (c *cli) pruneAuditCmd() *cobra.Command {
	var days, batch int
	cmd := &cobra.Command{
		Use:   "prune-audit",
		Short: "Delete audit entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, application.Options{}, func(ctx context.Context, app *application.App) error {
				if days <= 0 {
					days = app.Config.Audit.RetentionDays
				}
				cutoff := time.Now().UTC().AddDate(0, 0, -days)
				n, err := app.Service.PruneAuditLog(ctx, cutoff, batch)
				if err != nil {
					return err
				}
				return c.print(cmd, map[string]any{"deleted": n, "cutoff": cutoff}, func(p *printer) {
					p.linef("%d audit entr(ies) older than %s deleted", n, cutoff.Format(time.DateOnly))
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default AUDIT_RETENTION_DAYS)")
	cmd.Flags().IntVar(&batch, "batch", 5000, "rows per delete statement")
	return cmd
}
