package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wg-sso-gateway/controlplane/internal/config"
	apiHandler "wg-sso-gateway/controlplane/internal/handler/api"
	uiHandler "wg-sso-gateway/controlplane/internal/handler/ui"
	"wg-sso-gateway/controlplane/internal/infra"
	"wg-sso-gateway/controlplane/internal/login"
	appmw "wg-sso-gateway/controlplane/internal/middleware"
	"wg-sso-gateway/controlplane/internal/model"
	"wg-sso-gateway/controlplane/internal/repository"
	"wg-sso-gateway/controlplane/internal/service"
	"wg-sso-gateway/controlplane/internal/session"
	"wg-sso-gateway/controlplane/internal/token"
	"wg-sso-gateway/controlplane/internal/wireguard"
	"wg-sso-gateway/internal/command"
	"wg-sso-gateway/internal/keys"
	"wg-sso-gateway/internal/logging"
	"wg-sso-gateway/internal/protocol"
	"wg-sso-gateway/internal/wgquick"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the login API and keep the WireGuard interface in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	network, err := cfg.ClientNetwork()
	if err != nil {
		return err
	}
	networks, err := cfg.Networks()
	if err != nil {
		return err
	}
	dns, err := cfg.DNSServers()
	if err != nil {
		return err
	}

	sessions := session.NewManager(network, cfg.Session.Duration, session.WithLogger(logger))

	generator, applier, err := newApplyBackend(cfg, logger)
	if err != nil {
		return err
	}
	serverKeys, err := generator.Generate(ctx)
	if err != nil {
		return err
	}

	engine, err := wireguard.NewEngine(sessions, serverKeys, wireguard.Settings{
		ListenPort:      cfg.WireGuard.Port,
		Endpoint:        cfg.WireGuard.Endpoint,
		Networks:        networks,
		DNS:             dns,
		MTU:             cfg.WireGuard.MTU,
		ClientKeepalive: cfg.WireGuard.ClientKeepalive,
		ServerKeepalive: cfg.WireGuard.ServerKeepalive,
		PostUp:          cfg.WireGuard.PostUp,
		PostDown:        cfg.WireGuard.PostDown,
	}, applier, logger)
	if err != nil {
		return err
	}

	tokens, err := token.NewIssuer[model.LoginAttempt](cfg.Session.LoginDuration)
	if err != nil {
		return err
	}

	provider, err := login.NewOIDCProvider(ctx, login.OIDCConfig{
		Issuer:       cfg.OIDC.Server,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		EmailDomain:  cfg.OIDC.EmailDomain,
	}, logger)
	if err != nil {
		return err
	}

	db, err := infra.OpenDB(cfg.Audit.DBPath)
	if err != nil {
		return err
	}
	repo := repository.NewGormRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logins := service.NewLoginService(tokens, provider, engine, repo, logger)

	router, err := newRouter(cfg, logins, sessions, repo, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("controlplane starting",
		"addr", srv.Addr,
		"public_url", cfg.HTTP.PublicURL,
		"client_network", network.String(),
		"server_public_key", engine.PublicKey(),
		"apply_mode", cfg.WireGuard.ApplyMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sessions.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })

	err = g.Wait()
	logger.Info("controlplane stopped")
	return err
}

// newApplyBackend picks how keys are generated and how the server interface
// is configured.
func newApplyBackend(cfg config.Config, logger *slog.Logger) (keys.Generator, wireguard.Applier, error) {
	switch cfg.WireGuard.ApplyMode {
	case config.ApplyModeNetlink:
		applier, err := wireguard.NewNetlinkApplier(cfg.WireGuard.Interface)
		if err != nil {
			return nil, nil, err
		}
		return keys.NativeGenerator{}, applier, nil
	default:
		runner := command.NewExecRunner()
		tool := wgquick.New(cfg.WireGuard.ConfigDir, runner, logger)
		return keys.NewToolGenerator(runner), wireguard.NewQuickApplier(cfg.WireGuard.Interface, tool), nil
	}
}

func newRouter(cfg config.Config, logins *service.LoginService, sessions *session.Manager, repo repository.Repository, logger *slog.Logger) (chi.Router, error) {
	ui, err := uiHandler.NewHandler(sessions)
	if err != nil {
		return nil, err
	}
	api := apiHandler.NewHandler(logins, sessions, repo, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appmw.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get(protocol.PathFinishPage, ui.FinishPage)

	limiter := appmw.NewIPRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	opts := apiHandler.Options{
		LoginMiddleware: []func(http.Handler) http.Handler{appmw.RateLimit(limiter, logger)},
	}
	if cfg.Admin.User != "" {
		opts.AdminAuth = appmw.BasicAuth("controlplane", cfg.Admin.User, []byte(cfg.Admin.PasswordHash))
		r.Group(func(r chi.Router) {
			r.Use(opts.AdminAuth)
			r.Mount("/admin", ui.AdminRoutes())
		})
	} else {
		logger.Warn("admin endpoints disabled: no admin user configured")
	}
	api.RegisterRoutes(r, opts)

	return r, nil
}
