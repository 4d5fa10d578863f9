package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"surveyflat/internal/etl"
	"surveyflat/internal/service"
)

func newJobsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage stored export jobs",
	}
	cmd.AddCommand(
		newJobsCreateCmd(g),
		newJobsListCmd(g),
		newJobsRunCmd(g),
		newJobsDeleteCmd(g),
		newJobsLogsCmd(g),
	)
	return cmd
}

func newJobsCreateCmd(g *globalFlags) *cobra.Command {
	f := &exportFlags{}
	var (
		name          string
		trigger       string
		triggerConfig string
		enabled       bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store an export job",
		Long: `Store an export job in the job database.

Triggers:
  manual      run with 'surveyflat jobs run ID'
  schedule    run on a cron expression (--trigger-config "0 * * * *")
  file_watch  run when a file changes (defaults to the source's filePath)

Scheduled and file-watch jobs fire while 'surveyflat serve' is running.

Examples:
  surveyflat jobs create --name nightly -f forms/household.yaml -i data/household.json \
    --out out/ --trigger schedule --trigger-config "0 2 * * *" --enabled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.exportInput()
			if err != nil {
				return err
			}
			in.Name = name
			in.TriggerType = trigger
			in.TriggerConfig = triggerConfig
			in.Enabled = enabled

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.Exports.CreateJob(cmd.Context(), in)
			if err != nil {
				return err
			}
			return g.render(cmd.OutOrStdout(), job, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "created job %s (%s)\n", job.ID, job.Name)
				return err
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&name, "name", "", "job name (defaults to the form file name)")
	cmd.Flags().StringVar(&trigger, "trigger", service.TriggerManual, "trigger type (manual, schedule, file_watch)")
	cmd.Flags().StringVar(&triggerConfig, "trigger-config", "", "cron expression or watched path")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "let the trigger fire")
	return cmd
}

func newJobsListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored export jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Exports.ListJobs()
			if err != nil {
				return err
			}
			return g.render(cmd.OutOrStdout(), jobs, func(w io.Writer) error {
				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, []string{
						j.ID, j.Name, string(j.Mode), j.DriverType, triggerLabel(j),
						strconv.FormatBool(j.Enabled), orDash(j.LastStatus),
					})
				}
				return table(w, []string{"ID", "NAME", "MODE", "DRIVER", "TRIGGER", "ENABLED", "LAST"}, rows)
			})
		},
	}
}

func newJobsRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run ID",
		Short: "Run a stored job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.Exports.RunJob(ctx, args[0])
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
}

func newJobsDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored job and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Exports.DeleteJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted job %s\n", args[0])
			return nil
		},
	}
}

func newJobsLogsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Show the run history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.Exports.ListRunLogs(args[0], limit)
			if err != nil {
				return err
			}
			return g.render(cmd.OutOrStdout(), logs, func(w io.Writer) error {
				rows := make([][]string, 0, len(logs))
				for _, l := range logs {
					rows = append(rows, []string{
						l.RunID, l.StartedAt.Local().Format("2006-01-02 15:04:05"), l.Status,
						strconv.Itoa(l.RecordsRead), strconv.Itoa(l.RowsWritten),
						strconv.Itoa(l.Anomalies), orDash(l.Error),
					})
				}
				return table(w, []string{"RUN", "STARTED", "STATUS", "READ", "WRITTEN", "ANOMALIES", "ERROR"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func triggerLabel(j etl.ExportJob) string {
	if j.TriggerConfig == "" {
		return j.TriggerType
	}
	return j.TriggerType + " " + j.TriggerConfig
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
