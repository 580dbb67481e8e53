package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/mailpulse/internal/auth"
	"github.com/HerbHall/mailpulse/internal/config"
	"github.com/HerbHall/mailpulse/internal/credcache"
	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/HerbHall/mailpulse/internal/extract"
	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/internal/mail"
	"github.com/HerbHall/mailpulse/internal/monitor"
	"github.com/HerbHall/mailpulse/internal/oauth"
	"github.com/HerbHall/mailpulse/internal/server"
	"github.com/HerbHall/mailpulse/internal/store"
	"github.com/HerbHall/mailpulse/internal/version"
	"github.com/HerbHall/mailpulse/internal/webhook"
	"github.com/HerbHall/mailpulse/internal/ws"
	"github.com/HerbHall/mailpulse/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "mailpulse",
		Short:        "MailPulse: mailbox monitoring and verification code extraction",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newTokenCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring service (default)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(*configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			return err
		},
	}
}

func runServe(configPath string) error {
	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger); err != nil {
		logger.Error("mailpulse stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// components holds the decoded per-component settings.
type components struct {
	server   server.Config
	database store.Config
	auth     auth.Config
	gateway  gateway.GatewayConfig
	cache    credcache.CacheConfig
	oauth    oauth.Config
	mail     mail.Config
	extract  extract.Rules
	monitor  monitor.MonitorConfig
	webhook  webhook.Config
	// endpoints are the upstream endpoints registered with the gateway.
	endpoints []gateway.Endpoint
}

func loadComponents(cfg *config.ViperConfig) (components, error) {
	var c components
	var err error
	if c.server, err = config.Section(cfg, "server", server.DefaultConfig()); err != nil {
		return c, err
	}
	if c.database, err = config.Section(cfg, "database", store.DefaultConfig()); err != nil {
		return c, err
	}
	if c.auth, err = config.Section(cfg, "auth", auth.DefaultConfig()); err != nil {
		return c, err
	}
	if c.gateway, err = config.Section(cfg, "gateway", gateway.DefaultConfig()); err != nil {
		return c, err
	}
	if c.cache, err = config.Section(cfg, "cache", credcache.DefaultConfig()); err != nil {
		return c, err
	}
	if c.oauth, err = config.Section(cfg, "oauth", oauth.DefaultConfig()); err != nil {
		return c, err
	}
	if c.mail, err = config.Section(cfg, "mail", mail.DefaultConfig()); err != nil {
		return c, err
	}
	if c.extract, err = config.Section(cfg, "extract", extract.DefaultRules()); err != nil {
		return c, err
	}
	if c.monitor, err = config.Section(cfg, "monitor", monitor.DefaultConfig()); err != nil {
		return c, err
	}
	if err = c.monitor.Validate(); err != nil {
		return c, err
	}
	if c.webhook, err = config.Section(cfg, "webhook", webhook.DefaultConfig()); err != nil {
		return c, err
	}
	ep, err := config.Section(cfg, "gateway", struct {
		Endpoints []gateway.Endpoint `mapstructure:"endpoints"`
	}{})
	if err != nil {
		return c, err
	}
	c.endpoints = ep.Endpoints
	return c, nil
}

func serve(cfg *config.ViperConfig, logger *zap.Logger) error {
	logger.Info("MailPulse starting", zap.String("version", version.Short()))

	if f := cfg.Viper().ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	c, err := loadComponents(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if c.database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.database.Path), 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.New(c.database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	if err := db.Migrate(ctx, "monitor", monitor.Migrations()); err != nil {
		return err
	}
	monStore := monitor.NewMonitorStore(db.DB())
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", c.database.Path),
	)

	// Upstream gateway
	gw := gateway.New(c.gateway, logger.Named("gateway"))
	for _, ep := range c.endpoints {
		if err := gw.RegisterEndpoint(ep); err != nil {
			return fmt.Errorf("register endpoint %q: %w", ep.ID, err)
		}
		logger.Info("upstream endpoint registered",
			zap.String("component", "gateway"),
			zap.String("endpoint", ep.ID),
			zap.String("service", ep.Service),
		)
	}

	// Credentials
	tokenClient := oauth.NewClient(c.oauth, gw.Client("token"), logger.Named("oauth"))
	cache := credcache.New[models.AccountCredential](c.cache, logger.Named("credcache"))
	cache.Start(ctx)
	defer cache.Stop()
	creds := credcache.NewProvider(cache, monStore, tokenClient, c.cache.ExpiryMargin, logger.Named("credentials"))

	// Mail and extraction
	retriever := mail.NewRetriever(c.mail, gw.Client("mail"), logger.Named("mail"))
	extractor, err := extract.New(c.extract, logger.Named("extract"))
	if err != nil {
		return fmt.Errorf("extraction rules: %w", err)
	}

	// Scheduler
	bus := event.NewBus(logger.Named("event"))
	bus.Subscribe(event.Filter{Types: []event.Type{event.TypeCodeFound}}, monStore.CodeRecorder(logger.Named("codes")))
	checker := monitor.NewMailChecker(creds, retriever, extractor, c.monitor.MaxMessages, logger.Named("checker"))
	sched := monitor.NewScheduler(c.monitor, checker, bus, logger.Named("monitor"))
	sched.Run(ctx)
	go monStore.RunMaintenance(ctx, c.monitor, logger.Named("maintenance"))

	notifier := webhook.New(c.webhook, nil, logger.Named("webhook"))
	if notifier.Enabled() {
		notifier.Start(ctx, bus)
		defer notifier.Stop()
	}

	// Auth
	var tokens *auth.TokenService
	var guard server.RouteRegistrar
	if c.auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; the API is unauthenticated",
			zap.String("component", "auth"),
		)
	} else {
		tokens, err = auth.NewTokenService([]byte(c.auth.JWTSecret), c.auth.AccessTokenTTL)
		if err != nil {
			return err
		}
		guard = auth.NewGuard(tokens, logger.Named("auth"))
		logger.Info("operator token auth enabled",
			zap.String("component", "auth"),
			zap.Duration("access_token_ttl", tokens.TTL()),
		)
	}

	// HTTP
	wsHandler := ws.NewHandler(tokens, bus, logger.Named("ws"))
	api := monitor.NewAPI(sched, monStore, extractor, logger.Named("api"))
	readyCheck := server.ReadinessChecker(db.Ping)
	srv := server.New(c.server, logger, readyCheck, guard,
		api,
		wsHandler,
		gateway.NewHandler(gw),
		credcache.NewHandler(cache),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("MailPulse ready", zap.String("addr", c.server.Addr()))

	// Wait for shutdown signal or a server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	wsHandler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Shutdown()
	cancel()

	logger.Info("MailPulse stopped")
	return runErr
}
