package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/metrics"
	"github.com/systmms/rotator/internal/trigger"
	"github.com/systmms/rotator/pkg/rotation"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand(cfg *config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP rotation trigger",
		Long: `Accept rotation events over HTTP for schedulers that are not Secrets
Manager itself.

  POST /rotate   {"SecretId": "...", "ClientRequestToken": "...", "Step": "createSecret"}
  GET  /health   liveness probe
  GET  /metrics  Prometheus metrics (disable with server.metrics: false)

Responses: 200 done, 400 invalid event, 409 precondition violated, 422
credential rejected by testSecret, 503 transient failure worth redelivering.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			var observers []rotation.StepObserver
			opts := []trigger.ServerOption{trigger.WithStepTimeout(cfg.Settings.StoreTimeout())}
			if cfg.Settings.MetricsEnabled() {
				observers = append(observers, metrics.Default())
				opts = append(opts, trigger.WithMetrics(prometheus.DefaultGatherer))
			}

			coordinator, target, err := newCoordinator(cmd.Context(), cfg, store, observers...)
			if err != nil {
				return err
			}
			defer target.Close()

			if addr == "" {
				addr = cfg.Settings.Server.Addr
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           trigger.NewServer(coordinator, cfg.Logger, opts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				cfg.Logger.Info("Listening on %s", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			cfg.Logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr, :8080)")

	return cmd
}
