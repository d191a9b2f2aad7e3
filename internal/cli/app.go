package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wade/internal/amqp"
	"wade/internal/backend"
	"wade/internal/cache"
	"wade/internal/config"
	"wade/internal/directus"
	apphttp "wade/internal/http"
	"wade/internal/log"
	"wade/internal/session"
	"wade/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 5 * time.Minute
)

// App is the wade command line.
type App struct {
	rootCmd *cobra.Command
	envFile string
	format  string
}

// NewApp builds the root command with its serve and worker sub-commands.
func NewApp(version string) *App {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "wade",
		Short:         "Directus-backed budget site with a shared sign-in",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&app.envFile, "env-file", ".env", "Path to a .env file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&app.format, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the main site and the budget site",
		Args:  cobra.NoArgs,
		RunE:  app.runServe,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Consume registration notices from AMQP",
		Args:  cobra.NoArgs,
		RunE:  app.runWorker,
	})

	app.rootCmd = rootCmd
	return app
}

// Execute runs the command line.
func (app *App) Execute() error {
	return app.rootCmd.Execute()
}

func (app *App) bootstrap() (*config.Config, *log.Logger, error) {
	if err := LoadEnvFile(app.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	level, _ := cfg.SlogLevel()
	return cfg, SetupLogger(level, app.format), nil
}

func (app *App) runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := app.bootstrap()
	if err != nil {
		return err
	}
	logger.Info("Starting wade", "port", cfg.Port, "budget_host", cfg.BudgetHost())

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	store, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).
		CreateBackend(cmd.Context(), backendCfg)
	if err != nil {
		return err
	}

	client, err := directus.New(cfg.DirectusURL,
		directus.WithLogger(logger.WithComponent(log.ComponentDirectus).Slog()))
	if err != nil {
		return err
	}

	var notifier *amqp.Client
	deps := session.Deps{
		Auth:              client,
		Store:             store.Backend,
		Roles:             session.Roles{Pending: cfg.PendingRole, Basic: cfg.BasicRole, Admin: cfg.AdminRole},
		RegistrationToken: cfg.DirectusRegistrationToken,
		Logger:            logger.WithComponent(log.ComponentSession).Slog(),
	}
	if cfg.AMQPURL != "" {
		notifier, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			return fmt.Errorf("create AMQP client: %w", err)
		}
		deps.Notifier = notifier
	}

	sessions := session.NewManager(deps, session.ManagerConfig{
		TTL:          cfg.SessionTTL,
		MaxSessions:  cfg.MaxSessions,
		CookieDomain: cookieDomain(cfg.RootDomain),
		CookieSecure: cfg.CookieSecure,
	})

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	caches.Register("sessions", sessions.Cleaner())
	if store.Cleaner != nil {
		caches.Register("credentials", store.Cleaner)
	}
	caches.StartCleanup(cleanupInterval)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Config:   cfg,
		Directus: client,
		Sessions: sessions,
		Backend:  store.Backend,
		Logger:   logger,
		Caches:   caches,
	})
	if err != nil {
		caches.Stop()
		return err
	}

	ctx, done := GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if notifier != nil {
			if err := notifier.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if store.Cleanup != nil {
			if err := store.Cleanup(); err != nil {
				logger.Warn("Session backend close error", log.FieldError, err)
			}
		}
	})

	logger.Info("Server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-ctx.Done()
	<-done
	return nil
}

func (app *App) runWorker(_ *cobra.Command, _ []string) error {
	cfg, logger, err := app.bootstrap()
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("worker: AMQP_URL is required")
	}
	if cfg.DirectusRegistrationToken == "" {
		logger.Warn("DIRECTUS_REGISTRATION_TOKEN is empty; user lookups run unauthenticated")
	}
	logger.Info("Starting wade worker", "queue", cfg.AMQPQueue)

	client, err := directus.New(cfg.DirectusURL,
		directus.WithLogger(logger.WithComponent(log.ComponentDirectus).Slog()))
	if err != nil {
		return err
	}
	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		logger.WithComponent(log.ComponentAMQP).Slog())
	if err != nil {
		return fmt.Errorf("create AMQP client: %w", err)
	}
	defer consumer.Close()

	w := worker.NewRegistrationWorker(client, cfg.DirectusRegistrationToken, cfg.PendingRole,
		logger.WithComponent(log.ComponentWorker).Slog())

	ctx, done := GracefulShutdown(logger, shutdownTimeout, nil)
	runErr := w.Run(ctx, consumer)
	if runErr != nil {
		logger.Error("Registration worker failed", log.FieldError, runErr)
		return runErr
	}
	<-done
	return nil
}

// cookieDomain shares the session cookie across sub-domains. Browsers
// reject a Domain attribute for single-label hosts such as localhost.
func cookieDomain(root string) string {
	if !strings.Contains(root, ".") {
		return ""
	}
	return root
}
