package commands

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/api"
	"github.com/planesync/planesync/pkg/policy"
	"github.com/planesync/planesync/pkg/settings"
	"github.com/planesync/planesync/pkg/template"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the batch API: create batches from uploaded templates, inspect the
ledger and operation log, and clean batches up. Prometheus metrics are
exposed on /metrics when enabled in the telemetry settings.`,
		Example: `  planesync serve
  planesync serve --listen 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true, func(s *settings.Settings) {
				if listen != "" {
					s.Server.Listen = listen
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			loader, err := template.NewLoader()
			if err != nil {
				return err
			}

			if a.policy != nil && a.settings.Policy.Watch && len(a.settings.Policy.Paths) > 0 {
				watcher := policy.NewLoader(a.tel.Logger.NewComponentLogger("policy").Zerolog())
				err := watcher.Watch(ctx, a.settings.Policy.Paths, func(p []policy.Policy) error {
					return a.policy.ReplacePolicies(ctx, p)
				})
				if err != nil {
					log.Warn().Err(err).Msg("Policy hot reload disabled")
				}
			}

			srv := api.NewServer(api.ServerConfig{
				Runner:    a.exec,
				Store:     a.store,
				Templates: loader,
				Telemetry: a.tel,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(a.settings.Server.Listen)
			}()

			log.Info().
				Str("listen", a.settings.Server.Listen).
				Str("workspace", a.settings.Plane.WorkspaceSlug).
				Msg("API server started")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from settings)")

	return cmd
}
