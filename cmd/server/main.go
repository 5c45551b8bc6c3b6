package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/patient-recovery/internal/alert"
	"github.com/iliyamo/patient-recovery/internal/config"
	"github.com/iliyamo/patient-recovery/internal/database"
	"github.com/iliyamo/patient-recovery/internal/handler"
	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/notify"
	"github.com/iliyamo/patient-recovery/internal/queue"
	"github.com/iliyamo/patient-recovery/internal/repository"
	"github.com/iliyamo/patient-recovery/internal/router"
	"github.com/iliyamo/patient-recovery/internal/utils"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "patient-recovery",
		Short:        "Patient recovery tracking API",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), alertWorkerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads config, sets up logging and opens the database.
func bootstrap() (config.Config, *logrus.Entry, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().WithError(err).Error("failed to load config")
		return cfg, nil, nil, err
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	db, err := database.Open(cfg.DSNParams())
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		return cfg, logger, nil, err
	}
	return cfg, logger, db, nil
}

func serveCmd() *cobra.Command {
	var (
		migrate  bool
		consumer bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(migrate, consumer)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().BoolVar(&consumer, "consume-alerts", true, "with ALERT_DELIVERY=queue, also drain the alert queue in this process")
	return cmd
}

func runServer(migrate, runConsumer bool) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := migrateUp(ctx, db, logger); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}

	dispatcher, err := notify.NewDispatcher(cfg.Telegram, logging.Component("telegram"))
	if err != nil {
		return err
	}

	var sink alert.Sink = dispatcher
	if cfg.Alert.Delivery == config.DeliveryQueue {
		pub := queue.NewPublisher(cfg.Alert.AMQPURL, cfg.Alert.Queue, cfg.Alert.DialTimeout, dispatcher, nil)
		defer pub.Close()
		sink = pub
		if runConsumer {
			c := queue.NewConsumer(cfg.Alert.AMQPURL, cfg.Alert.Queue, dispatcher, nil)
			go func() {
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.WithError(err).Error("alert consumer stopped")
				}
			}()
		}
	}
	if cfg.Telegram.Polling {
		go dispatcher.Listen(ctx)
	}

	users := repository.NewUserRepo(db)
	patients := repository.NewPatientRepo(db)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logging.Component("cache"))
	alerter := alert.NewAlerter(users, sink, logging.Component("alert"))
	issuer := utils.NewTokenIssuer(cfg.JWTSecret)

	h := router.Handlers{
		Auth:      handler.NewAuthHandler(users, issuer, cache, cfg.BcryptCost),
		Telegram:  handler.NewTelegramHandler(users, dispatcher),
		Patients:  handler.NewPatientHandler(patients),
		Photos:    handler.NewPhotoHandler(patients, cfg.Upload.Dir, cfg.Upload.MaxBytes),
		Diagnoses: handler.NewDiagnosisHandler(repository.NewDiagnosisRepo(db), patients, cfg.DiagnosesPublicRead),
		Vitals:    handler.NewVitalHandler(repository.NewVitalRepo(db), patients, alerter),
		Rehab:     handler.NewRehabHandler(repository.NewRehabRepo(db), patients),
		Users:     handler.NewUserHandler(users, cache, repository.NewAuditRepo(db)),
	}
	e := router.New(h, router.Options{
		Tokens:    issuer,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logging.Component("ratelimit")),
		Cache:     cache,
		DB:        db,
		UploadDir: cfg.Upload.Dir,
		Logger:    logging.Component("http"),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(logging.Fields{"addr": addr, "alert_delivery": cfg.Alert.Delivery}).Info("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func migrateUp(ctx context.Context, db *sql.DB, logger *logrus.Entry) error {
	m, err := database.NewMigrator(db)
	if err != nil {
		return err
	}
	n, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.WithField("applied", n).Info("migrations applied")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()
			return migrateUp(cmd.Context(), db, logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := database.NewMigrator(db)
			if err != nil {
				return err
			}
			states, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range states {
				status := "pending"
				if s.Applied {
					status = "applied"
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Path, status, s.At)
			}
			return nil
		},
	})
	return cmd
}

// alertWorkerCmd drains the alert queue without serving HTTP, for
// deployments that run the API with ALERT_DELIVERY=queue and
// --consume-alerts=false.
func alertWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alert-worker",
		Short: "Deliver queued vitals alerts to Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			dispatcher, err := notify.NewDispatcher(cfg.Telegram, logging.Component("telegram"))
			if err != nil {
				return err
			}
			if !dispatcher.Enabled() {
				return errors.New("alert-worker needs TELEGRAM_BOT_TOKEN")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithField("queue", cfg.Alert.Queue).Info("alert worker started")
			err = queue.NewConsumer(cfg.Alert.AMQPURL, cfg.Alert.Queue, dispatcher, nil).Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("alert worker stopped")
				return nil
			}
			return err
		},
	}
}
