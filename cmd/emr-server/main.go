package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emr/emr/internal/config"
	"github.com/emr/emr/internal/domain/appointment"
	"github.com/emr/emr/internal/domain/department"
	"github.com/emr/emr/internal/domain/encounter"
	"github.com/emr/emr/internal/platform/auth"
	"github.com/emr/emr/internal/platform/db"
	"github.com/emr/emr/internal/platform/middleware"
	"github.com/emr/emr/internal/platform/notification"
)

// AppointmentLinkAdapter adapts the appointment service to the
// encounter coordinator's appointment port, avoiding a circular import
// between the two domain packages.
type AppointmentLinkAdapter struct {
	svc *appointment.Service
}

func NewAppointmentLinkAdapter(svc *appointment.Service) *AppointmentLinkAdapter {
	return &AppointmentLinkAdapter{svc: svc}
}

func (a *AppointmentLinkAdapter) Get(ctx context.Context, encounterID uuid.UUID) (*encounter.AppointmentInfo, error) {
	appt, err := a.svc.GetByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, nil
	}
	return &encounter.AppointmentInfo{
		ID:     appt.ID,
		End:    appt.End,
		Status: string(appt.Status),
	}, nil
}

func (a *AppointmentLinkAdapter) SetStatus(ctx context.Context, appointmentID uuid.UUID, status string) error {
	return a.svc.SetStatus(ctx, appointmentID, appointment.Status(status))
}

func (a *AppointmentLinkAdapter) Detach(ctx context.Context, encounterID uuid.UUID) error {
	return a.svc.DetachFromEncounter(ctx, encounterID)
}

func (a *AppointmentLinkAdapter) Restore(ctx context.Context, encounterID uuid.UUID) error {
	return a.svc.RestoreForEncounter(ctx, encounterID)
}

// NotificationSenderAdapter delivers the coordinator's outbound
// notifications through the notification manager as email.
type NotificationSenderAdapter struct {
	mgr *notification.Manager
}

func NewNotificationSenderAdapter(mgr *notification.Manager) *NotificationSenderAdapter {
	return &NotificationSenderAdapter{mgr: mgr}
}

func (a *NotificationSenderAdapter) Send(ctx context.Context, n encounter.OutboundNotification) error {
	return a.mgr.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Body:      n.Body,
		Metadata:  map[string]string{"event_type": n.Type},
	})
}

// logEmailSender is the default email backend: it logs instead of
// delivering. Production deployments plug in a real SMTP sender here.
type logEmailSender struct {
	log zerolog.Logger
}

func (s *logEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.log.Info().Str("to", to).Str("subject", subject).Msg("email notification")
	return nil
}

type logSMSSender struct {
	log zerolog.Logger
}

func (s *logSMSSender) SendSMS(_ context.Context, to, _ string) error {
	s.log.Info().Str("to", to).Msg("sms notification")
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "Encounter lifecycle API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		if !cfg.IsDev() {
			logger.Fatal().Msg("JWT_SECRET is required outside development")
		}
		jwtSecret = "insecure-development-signing-key-0000"
		logger.Warn().Msg("JWT_SECRET not set, using insecure development key")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	txRunner := db.NewTxRunner(pool)
	clock := encounter.SystemClock{}

	// Repositories and collaborating services
	encRepo := encounter.NewRepo(pool)
	deptRepo := department.NewRepo(pool)
	apptRepo := appointment.NewRepo(pool)

	deptSvc := department.NewService(deptRepo, logger)
	apptSvc := appointment.NewService(apptRepo, logger)
	apptLink := NewAppointmentLinkAdapter(apptSvc)

	// Notifications
	notifyMgr := notification.NewManager(
		&logEmailSender{log: logger},
		&logSMSSender{log: logger},
		notification.NewTemplateEngine(),
	)

	// Observers
	observers := encounter.NewObserverManager(logger)
	observers.RegisterObserver("logging", encounter.NewLoggingObserver(logger))
	metricsObs := encounter.NewMetricsObserver(prometheus.DefaultRegisterer)
	observers.RegisterObserver("metrics", metricsObs)
	observers.RegisterObserver("notifications", encounter.NewNotificationObserver(
		NewNotificationSenderAdapter(notifyMgr), encRepo, logger))

	var auditOut io.Writer = os.Stdout
	if cfg.AuditLogPath != "" {
		f, err := os.OpenFile(cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.AuditLogPath).Msg("failed to open audit log")
		}
		defer f.Close()
		auditOut = f
	}
	observers.RegisterObserver("audit", encounter.NewAuditObserver(auditOut, logger))
	observers.RegisterObserver("performance", encounter.NewPerformanceObserver(
		clock, time.Duration(cfg.SlowEventThresholdMS)*time.Millisecond))

	// Event bus with the default lifecycle handlers
	bus := encounter.NewEventBus(logger, observers)
	bus.RegisterDefaultHandlers(deptSvc, apptLink, clock)

	encSvc := encounter.NewService(encounter.Config{
		Repo:            encRepo,
		Documents:       encRepo,
		Transfers:       deptSvc,
		Appointments:    apptLink,
		Bus:             bus,
		Clock:           clock,
		Tx:              txRunner,
		Logger:          logger,
		HistoryCapacity: cfg.CommandHistorySize,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutS) * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.Middleware([]byte(jwtSecret)))

	encounter.NewHandler(encSvc).RegisterRoutes(apiV1)
	department.NewHandler(deptSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
