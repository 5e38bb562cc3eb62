package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hylla/perangkat/internal/adapters/server"
	"github.com/hylla/perangkat/internal/adapters/server/common"
	"github.com/hylla/perangkat/internal/sweeper"
)

func (c *cli) serveCommand() *cobra.Command {
	var (
		bind    string
		noSweep bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the MCP endpoint, and the periodic tenure sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), "serve", func(ctx context.Context, rt *runtime) error {
				return runServe(ctx, rt, firstNonEmpty(bind, rt.cfg.Server.Bind), !noSweep)
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address; defaults to server.bind")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the background tenure sweep")
	return cmd
}

// runServe blocks until ctx ends or the listener fails; either stops the sweeper too.
func runServe(ctx context.Context, rt *runtime, bind string, sweep bool) error {
	poll, err := rt.cfg.PollInterval()
	if err != nil {
		return err
	}
	cfg := server.Config{
		HTTPBind:      bind,
		APIEndpoint:   rt.cfg.Server.APIEndpoint,
		MCPEndpoint:   rt.cfg.Server.MCPEndpoint,
		ServerName:    "perangkat",
		ServerVersion: version,
	}
	deps := server.Dependencies{
		Service:    common.NewAppServiceAdapter(rt.svc, rt.logger),
		Store:      rt.repo,
		Gatherer:   rt.registry,
		Registerer: rt.registry,
		Logger:     rt.logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("http server start", "bind", bind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
		if err := server.Run(gctx, cfg, deps); err != nil {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})
	if sweep {
		sw := sweeper.New(rt.svc, poll, rt.logger)
		g.Go(func() error {
			return sw.Start(gctx)
		})
	}
	return g.Wait()
}
