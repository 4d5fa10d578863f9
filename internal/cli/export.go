package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"surveyflat/internal/etl"
	"surveyflat/internal/service"
)

// exportFlags describe one export; shared by `export` and `jobs create`.
type exportFlags struct {
	form         string
	source       string
	sourceConfig string
	input        string
	mode         string
	driver       string
	driverConfig string
	out          string
	syncMode     string
	transforms   string
	dedupeKey    string
}

func (f *exportFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.form, "form", "f", "", "form definition (YAML or JSON)")
	fl.StringVar(&f.source, "source", "json_file", "source type (json_file, mongodb, database)")
	fl.StringVar(&f.sourceConfig, "source-config", "", "source configuration as JSON")
	fl.StringVarP(&f.input, "input", "i", "", "submissions file, shorthand for a json_file source")
	fl.StringVarP(&f.mode, "mode", "m", "wide", "export mode (relational, wide)")
	fl.StringVarP(&f.driver, "driver", "d", "csv", "driver type (csv, sql, memory)")
	fl.StringVar(&f.driverConfig, "driver-config", "", "driver configuration as JSON")
	fl.StringVar(&f.out, "out", "", "output directory, shorthand for the csv driver's dir")
	fl.StringVar(&f.syncMode, "sync-mode", "replace", "replace or append existing tables")
	fl.StringVar(&f.transforms, "transforms", "", "transform chain as a JSON array of {type, config}")
	fl.StringVar(&f.dedupeKey, "dedupe-key", "", "drop submissions repeating this key")
	cmd.MarkFlagRequired("form")
}

// exportInput merges the shorthand flags into the JSON configs.
func (f *exportFlags) exportInput() (service.ExportInput, error) {
	in := service.ExportInput{
		FormPath:   f.form,
		SourceType: f.source,
		Mode:       f.mode,
		DriverType: f.driver,
		SyncMode:   f.syncMode,
		DedupeKey:  f.dedupeKey,
	}
	if err := jsonFlag("source-config", f.sourceConfig, &in.SourceConfig); err != nil {
		return in, err
	}
	if err := jsonFlag("driver-config", f.driverConfig, &in.DriverConfig); err != nil {
		return in, err
	}
	if err := jsonFlag("transforms", f.transforms, &in.Transforms); err != nil {
		return in, err
	}
	if f.input != "" {
		if in.SourceConfig == nil {
			in.SourceConfig = map[string]any{}
		}
		in.SourceConfig["filePath"] = f.input
	}
	if f.out != "" {
		if in.DriverConfig == nil {
			in.DriverConfig = map[string]any{}
		}
		in.DriverConfig["dir"] = f.out
	}
	return in, nil
}

func newExportCmd(g *globalFlags) *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run an export once without storing a job",
		Long: `Flatten the submissions of a form into tables.

Examples:
  # Wide CSV export of a JSON submissions file
  surveyflat export -f forms/household.yaml -i data/household.json --out out/

  # Relational export into a SQLite database
  surveyflat export -f forms/household.yaml -i data/household.json -m relational \
    -d sql --driver-config '{"connection":{"driver":"sqlite","host":"out/household.db"}}'

  # Submissions stored in MongoDB
  surveyflat export -f forms/household.yaml --source mongodb \
    --source-config '{"connection":{"driver":"mongodb","host":"localhost","port":27017,"database":"survey"},"collection":"instances"}' \
    --out out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.exportInput()
			if err != nil {
				return err
			}
			svc, _, err := g.standalone()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := svc.Export(ctx, in)
			if res != nil {
				if rerr := g.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
					return printResult(w, res)
				}); rerr != nil && err == nil {
					err = rerr
				}
			}
			return err
		},
	}
	f.bind(cmd)
	return cmd
}

func printResult(w io.Writer, res *etl.ExportResult) error {
	_, err := fmt.Fprintf(w, "%s: %d records read, %d rows written to %d table(s) [%s], %d anomalies, %s\n",
		res.Status, res.RecordsRead, res.RowsWritten, len(res.Tables), joinTables(res.Tables), res.Anomalies, res.Duration)
	return err
}
