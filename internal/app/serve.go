package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	mcpserver "surveyflat/internal/mcp"
)

// ServeOptions selects what Serve runs besides the job triggers.
type ServeOptions struct {
	// MCP serves the Model Context Protocol on stdin/stdout.
	MCP bool
	// AutoApprove lets MCP clients run jobs without a human decision.
	AutoApprove bool
	Version     string
}

// Serve starts the cron schedule and file watchers of stored jobs, the metrics
// endpoint when enabled, and optionally the MCP stdio server. It returns when
// ctx ends or the MCP client disconnects, after running jobs finish.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Exports.RestartWatchers(ctx)
	defer func() {
		a.Exports.Stop()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer waitCancel()
		a.Exports.WaitRunning(waitCtx)
	}()

	errCh := make(chan error, 2)

	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv := &http.Server{Addr: a.Config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.Logger.Info("metrics: listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if opts.MCP {
		srv := mcpserver.New(mcpserver.Deps{
			Exports:     a.Exports,
			Secrets:     a.Secrets,
			Approvals:   a.Approvals,
			AutoApprove: opts.AutoApprove,
			Logger:      a.Logger,
			Version:     opts.Version,
		})
		go func() { errCh <- srv.ServeStdio() }()
	}

	a.Logger.Info("serve: running", "mcp", opts.MCP, "metrics", a.Config.Metrics.Enabled)
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
