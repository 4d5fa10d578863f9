// Package cli implements the surveyflat command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"surveyflat/internal/app"
	"surveyflat/internal/config"
	"surveyflat/internal/etl/sources"
	"surveyflat/internal/logging"
	"surveyflat/internal/secret"
	"surveyflat/internal/service"
)

// globalFlags are available to every subcommand.
type globalFlags struct {
	cfgFile string
	verbose bool
	output  string
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "surveyflat",
		Short: "surveyflat - flatten survey submissions into tables",
		Long: `surveyflat turns nested survey submissions into flat tables.

Given a form definition and a source of submissions it produces either:
  - a relational export: one table per repeat section, linked by parent index
  - a wide export: one row per submission with indexed repeat columns

Exports run ad hoc, as stored jobs, on a cron schedule or when a file changes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "surveyflat.yaml", "config file path")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format (text, json)")

	root.AddCommand(
		newLayoutCmd(g),
		newExportCmd(g),
		newJobsCmd(g),
		newApprovalsCmd(g),
		newServeCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies --verbose.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.cfgFile)
	if err != nil {
		return nil, err
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// open builds the full app with the job database.
func (g *globalFlags) open() (*app.App, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

// standalone returns an export service without a job store, for commands
// that never touch stored jobs.
func (g *globalFlags) standalone() (*service.ExportService, *config.Config, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	secrets := secret.Default()
	sources.SetSecretStore(secrets)
	return service.NewExportService(nil, nil, service.Options{
		Export:  cfg.Export,
		Secrets: secrets,
		Logger:  log,
	}), cfg, nil
}
