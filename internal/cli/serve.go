package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the brain over HTTP",
		Long: `Starts the HTTP API: POST /v1/ask, GET /v1/intents, GET /v1/responses,
GET /v1/responses/{id}, GET /healthz, GET /readyz and GET /metrics.

The log level follows edits to the config file. SIGINT or SIGTERM shuts the
server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, func(cfg *server.Config) {
				if cmd.Flags().Changed("host") {
					cfg.Host = host
				}
				if cmd.Flags().Changed("port") {
					cfg.Port = port
				}
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

// runServe blocks until ctx is done.
func (a *app) runServe(ctx context.Context, override func(*server.Config)) error {
	rt, err := a.newRuntime(ctx, runtimeOptions{store: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	scfg := server.ConfigFrom(rt.cfg)
	if override != nil {
		override(scfg)
	}
	srv, err := server.NewServer(scfg, rt.brain, rt.store, rt.logger.Logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	updates := rt.mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			rt.logger.Info("shutdown signal received")
			return srv.Stop(context.Background())
		case cfg := <-updates:
			if err := rt.logger.SetLevel(cfg.Logging.Level); err != nil {
				rt.logger.Warn("ignoring reloaded log level", zap.Error(err))
				continue
			}
			rt.logger.Info("configuration reloaded", zap.String("log_level", cfg.Logging.Level))
		}
	}
}
