// Command imoveisctl is the operator CLI for the record store: schema
// setup, dictionary seeding, hierarchy inspection and explicit deletes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JonMunkholm/imoveis/internal/application"
	"github.com/JonMunkholm/imoveis/internal/config"
	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/JonMunkholm/imoveis/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitError    = 1
	exitConflict = 3
)

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorText(err))
		os.Exit(exitCode(err))
	}
}

// errorText shows the coded message followed by the technical detail.
// Errors from flag parsing and the like are printed as is.
func errorText(err error) string {
	if core.KindOf(err) == "" && !core.IsUserFacing(err) {
		return err.Error()
	}
	return core.FormatUserError(err) + "\n  " + err.Error()
}

// exitCode distinguishes a refused non-cascading delete so scripts can
// retry with --cascade.
func exitCode(err error) int {
	if core.KindOf(err) == core.KindConflictHasChildren {
		return exitConflict
	}
	return exitError
}

// cli carries global flags.
type cli struct {
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "imoveisctl",
		Short:         "Operate the real-estate record store",
		Version:       application.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		c.migrateCmd(),
		c.seedCmd(),
		c.pingCmd(),
		c.resolveCmd(),
		c.referencesCmd(),
		c.hierarchyCmd(),
		c.dependentsCmd(),
		c.deleteCmd(),
		c.auditCmd(),
		c.pruneAuditCmd(),
	)
	return root
}

// withApp loads configuration, opens the application and runs fn.
// Logs go to stderr so stdout carries only command output.
func withApp(cmd *cobra.Command, opts application.Options, fn func(ctx context.Context, app *application.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := application.Open(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	return fn(ctx, app)
}
