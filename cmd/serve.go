package cmd

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/controller"
	authgrpc "github.com/vibast-solutions/ms-go-session-auth/app/grpc"
	"github.com/vibast-solutions/ms-go-session-auth/app/mail"
	"github.com/vibast-solutions/ms-go-session-auth/app/middleware"
	"github.com/vibast-solutions/ms-go-session-auth/app/queue"
	"github.com/vibast-solutions/ms-go-session-auth/app/ratelimit"
	"github.com/vibast-solutions/ms-go-session-auth/app/repository"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  `Start the HTTP (Echo) and gRPC servers together with the email dispatch workers.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	userRepo := repository.NewUserRepository(db)
	deadLetterRepo := repository.NewDeadLetterRepository(db)
	tokens := service.NewTokenService(cfg.JWT)

	limiter, closeLimiter := newLoginLimiter(ctx, cfg)
	defer closeLimiter()

	broker := newBroker(cfg)
	defer broker.Close()

	workers := queue.NewWorkerPool(broker, newMailSender(cfg), deadLetterRepo, cfg.Queue.Workers, queue.RetryPolicy{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		InitialBackoff: cfg.Queue.InitialBackoff,
		MaxBackoff:     cfg.Queue.MaxBackoff,
	})
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := workers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("Email workers stopped")
		}
	}()

	dispatcher := queue.NewDispatcher(broker, cfg.Queue.PublishTimeout)
	userAuthService := service.NewUserAuthService(userRepo, tokens, limiter, dispatcher, cfg)
	guard := service.NewGuard(tokens)

	grpcServer, err := startGRPCServer(cfg, guard)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start gRPC server")
	}

	e := newHTTPServer(cfg, db, userRepo, tokens, userAuthService, guard)
	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	go func() {
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logrus.Warn("Email workers did not stop before shutdown timeout")
	}
}

func newHTTPServer(
	cfg *config.Config,
	db *sql.DB,
	userRepo *repository.UserRepository,
	tokens *service.TokenService,
	userAuthService service.UserAuthService,
	guard *service.Guard,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
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
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     []string{cfg.App.FrontendURL},
		AllowCredentials: true,
	}))

	cookies := controller.NewSessionCookies(cfg.Cookie)
	handlers := httpHandlers{
		auth:   controller.NewUserAuthController(userAuthService, cookies),
		health: controller.NewHealthController(db),
		guard:  middleware.NewAuthMiddleware(guard),
	}
	if cfg.OAuth.Google.Enabled() {
		linker := service.NewOAuthLinker(userRepo, tokens)
		handlers.google = controller.NewGoogleOAuthController(cfg, linker, cookies)
	} else {
		logrus.Info("Google OAuth disabled: client credentials not configured")
	}
	if cfg.Throttle.Enabled {
		handlers.throttle = middleware.NewThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst)
	}

	registerHTTPRoutes(e, handlers)
	return e
}

func startGRPCServer(cfg *config.Config, guard *service.Guard) (*grpc.Server, error) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, err
	}

	internalAccess := service.NewInternalAccessService(cfg.Internal.APIKeyHashes)
	if len(cfg.Internal.APIKeyHashes) == 0 {
		logrus.Warn("No internal API keys configured: gRPC Authorize will reject every caller")
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.APIKeyUnaryInterceptor(internalAccess)),
		grpc.StreamInterceptor(authgrpc.APIKeyStreamInterceptor(internalAccess)),
	)
	authgrpc.RegisterAuthServer(grpcServer, authgrpc.NewAuthServer(guard))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(authgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		logrus.WithField("addr", grpcAddr).Info("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			logrus.WithError(err).Error("gRPC server stopped")
		}
	}()
	return grpcServer, nil
}

func newLoginLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func()) {
	if !cfg.RateLimit.Enabled {
		logrus.Warn("Login rate limiting disabled")
		return ratelimit.Unlimited{}, func() {}
	}

	if cfg.RateLimit.Driver == "memory" {
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.Threshold, cfg.RateLimit.Window), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unreachable: login limiter will fail open until it recovers")
	}
	limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimit.Threshold, cfg.RateLimit.Window, cfg.RateLimit.Prefix)
	return limiter, func() { _ = client.Close() }
}

func newBroker(cfg *config.Config) queue.Broker {
	if cfg.Queue.Driver == "memory" {
		logrus.Warn("Using in-memory email queue: pending jobs are lost on restart")
		return queue.NewMemoryBroker(1024)
	}

	broker := queue.NewAMQPBroker(queue.AMQPConfig{
		URL:      cfg.Queue.AMQPURL,
		Queue:    cfg.Queue.Name,
		Prefetch: cfg.Queue.Prefetch,
	})
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := broker.Connect(connectCtx); err != nil {
		logrus.WithError(err).Warn("RabbitMQ unreachable at startup: will retry in background")
	}
	return broker
}

func newMailSender(cfg *config.Config) mail.Sender {
	if cfg.Mail.Driver == "smtp" {
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.SMTPTimeout,
		})
	}
	return mail.NewLogSender()
}
