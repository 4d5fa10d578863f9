package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newApprovalsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Resolve actions MCP clients are waiting on",
		Long: `MCP clients must be approved before they run a stored job unless the
server was started with --yes. Pending requests are kept in the job
database; resolve them from another terminal.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending approvals",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := g.open()
				if err != nil {
					return err
				}
				defer a.Close()

				pending, err := a.Approvals.ListPending()
				if err != nil {
					return err
				}
				return g.render(cmd.OutOrStdout(), pending, func(w io.Writer) error {
					rows := make([][]string, 0, len(pending))
					for _, p := range pending {
						rows = append(rows, []string{p.ID, p.Tool, p.Description, p.CreatedAt.Local().Format("15:04:05")})
					}
					return table(w, []string{"ID", "TOOL", "DESCRIPTION", "REQUESTED"}, rows)
				})
			},
		},
		newResolveCmd(g, "approve", true),
		newResolveCmd(g, "reject", false),
	)
	return cmd
}

func newResolveCmd(g *globalFlags, verb string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: verb + " a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Approvals.Resolve(args[0], approve); err != nil {
				return fmt.Errorf("%s %s: %w", verb, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, args[0])
			return nil
		},
	}
}
