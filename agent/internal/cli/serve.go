package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wg-sso-gateway/agent/internal/api"
	"wg-sso-gateway/agent/internal/config"
	"wg-sso-gateway/agent/internal/controlplane"
	"wg-sso-gateway/agent/internal/tunnel"
	"wg-sso-gateway/internal/command"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/logging"
	"wg-sso-gateway/internal/wgquick"
)

type serveOptions struct {
	Listen      string
	WGConfigDir string
	Log         logging.Config
}

func NewServeCommand(opts *Options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent daemon that owns the tunnel connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Setup(so.Log)

			store := config.NewStore(opts.Dir, logger)
			deviceID, err := config.LoadOrCreateDeviceID(opts.Dir)
			if err != nil {
				return err
			}

			runner := command.NewExecRunner()
			manager := tunnel.NewManager(tunnel.ManagerConfig{
				Definitions: store,
				DeviceID:    deviceID,
				Keys:        keys.NewToolGenerator(runner),
				NewGateway: func(endpoint string) tunnel.Gateway {
					return controlplane.New(endpoint)
				},
				Activator: wgquick.New(so.WGConfigDir, runner, logger),
				Logger:    logger,
			})

			r := chi.NewRouter()
			r.Use(chimw.RequestID)
			r.Use(chimw.Recoverer)
			api.NewHandler(manager, logger).RegisterRoutes(r)

			srv := &http.Server{
				Addr:              so.Listen,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if tunnels, err := store.List(); err == nil {
				logger.Info("agent starting", "listen", so.Listen, "tunnels", len(tunnels), "device_id", deviceID)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to bring tunnel down", "error", err)
				}
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return store.Watch(gctx, func(tunnels []config.Tunnel) {
					names := make([]string, 0, len(tunnels))
					for _, t := range tunnels {
						names = append(names, t.Name)
					}
					logger.Info("tunnel definitions changed", "tunnels", names)
				})
			})

			err = g.Wait()
			logger.Info("agent stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&so.Listen, "listen", api.DefaultListenAddr, "daemon API listen address")
	cmd.Flags().StringVar(&so.WGConfigDir, "wg-config-dir", wgquick.DefaultConfigDir, "directory for generated wg-quick configs")
	cmd.Flags().StringVar(&so.Log.Level, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&so.Log.Format, "log-format", "text", "log format (json, text)")
	return cmd
}
