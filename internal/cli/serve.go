package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"surveyflat/internal/app"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var opts app.ServeOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled and file-watch jobs",
		Long: `Run the triggers of every enabled job until interrupted.

With --mcp the Model Context Protocol is served on stdin/stdout so an
assistant can describe forms, preview exports and run jobs. Logs go to
stderr so they never mix with the protocol stream.

Examples:
  surveyflat serve
  surveyflat serve --mcp
  surveyflat serve --mcp --yes   # no approval needed to run jobs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts.Version = Version
			return a.Serve(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.MCP, "mcp", false, "serve MCP over stdio")
	cmd.Flags().BoolVarP(&opts.AutoApprove, "yes", "y", false, "approve MCP job runs automatically")
	return cmd
}
