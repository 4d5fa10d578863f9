package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newLayoutCmd(g *globalFlags) *cobra.Command {
	var showColumns bool
	cmd := &cobra.Command{
		Use:   "layout FORM",
		Short: "Describe the tables a form exports to",
		Long: `Load a form definition (YAML or JSON) and print the relational tables
an export produces: issued table names, parent tables and columns.

Examples:
  surveyflat layout forms/household.yaml
  surveyflat layout forms/household.yaml --columns
  surveyflat layout forms/household.yaml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.standalone()
			if err != nil {
				return err
			}
			desc, err := svc.DescribeLayout(args[0])
			if err != nil {
				return err
			}
			return g.render(cmd.OutOrStdout(), desc, func(w io.Writer) error {
				fmt.Fprintf(w, "survey: %s\n\n", desc.Survey)
				rows := make([][]string, 0, len(desc.Tables))
				for _, t := range desc.Tables {
					parent := t.Parent
					if parent == "" {
						parent = "-"
					}
					rows = append(rows, []string{t.Table, t.Section, parent, strconv.Itoa(len(t.Columns))})
				}
				if err := table(w, []string{"TABLE", "SECTION", "PARENT", "COLUMNS"}, rows); err != nil {
					return err
				}
				if !showColumns {
					return nil
				}
				for _, t := range desc.Tables {
					fmt.Fprintf(w, "\n%s:\n", t.Table)
					for i, c := range t.Columns {
						if i < len(t.Headers) && t.Headers[i] != c {
							fmt.Fprintf(w, "  %s  (%s)\n", c, t.Headers[i])
							continue
						}
						fmt.Fprintf(w, "  %s\n", c)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showColumns, "columns", false, "list the columns of every table")
	return cmd
}

// joinTables renders a table list for one-line summaries.
func joinTables(tables []string) string {
	if len(tables) == 0 {
		return "-"
	}
	return strings.Join(tables, ",")
}
