package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/api"
	"github.com/xpadev-net/clipwatch/internal/config"
	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/dispatch"
	"github.com/xpadev-net/clipwatch/internal/leader"
	"github.com/xpadev-net/clipwatch/internal/log"
	"github.com/xpadev-net/clipwatch/internal/metrics"
	"github.com/xpadev-net/clipwatch/internal/monitor"
	"github.com/xpadev-net/clipwatch/internal/twitch"
	"github.com/xpadev-net/clipwatch/internal/webhook"
)

func newRunCommand() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor and the HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			return run(cmd.Context(), cfg, !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on startup")
	return cmd
}

func newDispatcher(cfg *config.Config) dispatch.Dispatcher {
	if cfg.DispatchDryRun {
		log.Warn("dispatch dry run enabled, notifications are only logged")
		return dispatch.LogDispatcher{}
	}
	router := &dispatch.Router{
		Chat: dispatch.NewTelegram(cfg.TelegramBotToken, dispatch.TelegramOptions{APIBase: cfg.TelegramAPIBase}),
	}
	// unsigned webhooks are never sent
	if cfg.WebhookSigningKey != "" {
		router.Webhook = webhook.NewSender(cfg.WebhookSigningKey, webhook.Options{})
	} else {
		log.Warn("WEBHOOK_SIGNING_KEY not set, webhook destinations disabled")
	}
	return router
}

func run(ctx context.Context, cfg *config.Config, migrate bool) error {
	log.Info("starting clipwatch",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.HTTPPort),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Bool("leader_election", cfg.LeaderElection),
	)

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if migrate {
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	targets := db.NewTargetRepository(database, cfg.MaxStreamerSlots)
	state := db.NewStateRepository(database)
	ledger := db.NewLedgerRepository(database)

	factory := twitch.NewFactory(twitch.Options{
		APIBase:    cfg.TwitchAPIBase,
		TokenURL:   cfg.TwitchTokenURL,
		RatePerSec: cfg.TwitchRatePerSec,
	})
	sources := func(clientID, clientSecret string) monitor.Source {
		return factory.For(clientID, clientSecret)
	}

	dispatcher := newDispatcher(cfg)
	m := metrics.New()

	cycle := monitor.NewCycle(sources, state, ledger, dispatcher, m, monitor.CycleConfig{
		CallTimeout:        cfg.CallTimeout,
		Lookback:           cfg.LookbackWindow,
		ResolveConcurrency: cfg.ResolveConcurrency,
	})
	maintenance := monitor.NewMaintenance(targets, state, ledger, dispatcher, m, monitor.MaintenanceConfig{
		ExpiryInterval:    cfg.ExpirySweepInterval,
		RetentionInterval: cfg.RetentionSweepInterval,
		Retention:         cfg.LedgerRetention,
	})
	supervisor := monitor.NewSupervisor(targets, cycle, maintenance, m, monitor.SupervisorConfig{
		TickInterval:    cfg.TickInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(targets, supervisor, database), api.RouterOptions{
		APIKey:  cfg.AdminAPIKey,
		Metrics: m.Handler(),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	supervisorErr := make(chan error, 1)
	go func() {
		supervisorErr <- runSupervisor(runCtx, cfg, supervisor)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-supervisorErr:
		// only returns early when leader election could not start
		runErr = err
		supervisorErr = nil
	}

	cancel()
	if supervisorErr != nil {
		if err := <-supervisorErr; err != nil {
			log.Error("supervisor shutdown incomplete", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("clipwatch stopped")
	return runErr
}

// runSupervisor runs the supervisor directly or only while this replica
// holds the lease.
func runSupervisor(ctx context.Context, cfg *config.Config, supervisor *monitor.Supervisor) error {
	if !cfg.LeaderElection {
		return supervisor.Run(ctx)
	}

	var runErr error
	err := leader.Run(ctx, leader.Config{
		InCluster:      cfg.InCluster,
		KubeConfigPath: cfg.KubeConfigPath,
		Namespace:      cfg.Namespace,
		LeaseName:      cfg.LeaseName,
		Identity:       cfg.PodName,
	}, func(leadCtx context.Context) {
		if err := supervisor.Run(leadCtx); err != nil {
			runErr = err
		}
	})
	if err != nil {
		return err
	}
	return runErr
}
