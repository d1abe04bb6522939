package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/academiaparchada/ms-go-reconciler/app/backend"
	"github.com/academiaparchada/ms-go-reconciler/app/controller"
	"github.com/academiaparchada/ms-go-reconciler/app/conversion"
	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/outcome"
	"github.com/academiaparchada/ms-go-reconciler/app/polling"
	"github.com/academiaparchada/ms-go-reconciler/app/repository"
	"github.com/academiaparchada/ms-go-reconciler/app/service"
	"github.com/academiaparchada/ms-go-reconciler/app/types"
	"github.com/academiaparchada/ms-go-reconciler/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation HTTP server",
	Long:  "Start the HTTP server that hosts outcome page sessions for the web frontend.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, sessionManager, eventRepo, cleanup := mustCreateSessionManager()
	defer cleanup()

	sessionController := controller.NewSessionController(sessionManager)
	var eventController *controller.EventController
	if eventRepo != nil {
		eventController = controller.NewEventController(eventRepo)
	}
	e := setupHTTPServer(sessionController, eventController)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sessionManager.Run(sweepCtx)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	sweepCancel()
	sessionManager.Shutdown()

	logrus.Info("Server stopped")
}

func setupHTTPServer(sessionController *controller.SessionController, eventController *controller.EventController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())

	e.GET("/health", sessionController.Health)

	sessions := e.Group("/sessions")
	sessions.POST("", sessionController.OpenSession)
	sessions.GET("/:id", sessionController.GetSession)
	sessions.POST("/:id/check", sessionController.CheckNow)
	sessions.DELETE("/:id", sessionController.CloseSession)
	if eventController != nil {
		sessions.GET("/:id/events", eventController.ListSessionEvents)
	}

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func mustCreateSessionManager() (*config.Config, *service.SessionManager, *repository.ReconcileEventRepository, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	statusClient := backend.NewStatusClient(backend.Config{
		BaseURL:     cfg.Backend.BaseURL,
		HTTPTimeout: cfg.Backend.HTTPTimeout,
	})

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	dedupStore, storeCleanup := mustCreateDedupStore(cfg)
	if storeCleanup != nil {
		cleanups = append(cleanups, storeCleanup)
	}

	sink := conversion.NewHTTPSink(conversion.HTTPSinkConfig{
		CollectorURL: cfg.Analytics.CollectorURL,
		HTTPTimeout:  cfg.Analytics.HTTPTimeout,
	})
	emitter := conversion.NewEmitter(dedupStore, sink, cfg.Analytics.Currency)

	recorder, eventRepo, recorderCleanup := mustCreateEventRecorder(cfg)
	if recorderCleanup != nil {
		cleanups = append(cleanups, recorderCleanup)
	}

	sessionManager := service.NewSessionManager(
		statusClient,
		emitter,
		recorder,
		polling.Config{
			Interval:    cfg.Polling.Interval,
			MaxAttempts: cfg.Polling.MaxAttempts,
		},
		cfg.Sessions.Retention,
	)

	return cfg, sessionManager, eventRepo, cleanup
}

func mustCreateDedupStore(cfg *config.Config) (conversion.DedupStore, func()) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Fatal("Failed to ping redis")
		}
		return conversion.NewRedisDedupStore(client), func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		}
	}

	store, err := conversion.NewFileDedupStore(cfg.Conversions.FilePath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open conversions file store")
	}
	logrus.WithField("path", cfg.Conversions.FilePath).Info("Using file-backed conversion store")
	return store, nil
}

type sessionEventRecorder interface {
	Create(ctx context.Context, event *entity.ReconcileEvent) error
}

func mustCreateEventRecorder(cfg *config.Config) (sessionEventRecorder, *repository.ReconcileEventRepository, func()) {
	if cfg.MySQL.DSN == "" {
		return outcome.NopRecorder{}, nil, nil
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	repo := repository.NewReconcileEventRepository(db)
	return repo, repo, func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}
}
