package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/kevin07696/payment-orchestrator/internal/adapters/queue"
	"github.com/kevin07696/payment-orchestrator/internal/app"
	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"github.com/kevin07696/payment-orchestrator/pkg/shutdown"
)

const healthRefreshInterval = 10 * time.Second

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting payment orchestrator",
		zap.String("environment", cfg.Server.Environment),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)

	// Registered first so it closes last, after every server has drained.
	sm.RegisterFunc("app", a.Close)

	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), a.Health, logger)
	sm.RegisterFunc("metrics-server", func() error {
		return observability.ShutdownMetricsServer(metricsServer)
	})

	handler, stopLimiter, err := a.HTTPHandler()
	if err != nil {
		logger.Fatal("Failed to build HTTP handler", zap.Error(err))
	}
	sm.RegisterNoErr("rate-limiter", stopLimiter)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	sm.RegisterHTTPServer("http-server", httpServer)

	grpcServer, healthServer := newGRPCServer()
	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)))
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()
	sm.RegisterNoErr("grpc-server", grpcServer.GracefulStop)

	healthWorker := shutdown.NewPeriodicWorker("health-refresh", healthRefreshInterval, logger)
	healthWorker.Start(func(ctx context.Context) {
		servingStatus := healthpb.HealthCheckResponse_SERVING
		if a.Health.Check(ctx).Status != "healthy" {
			servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", servingStatus)
		healthServer.SetServingStatus(app.HealthServiceName, servingStatus)
	})
	sm.Register("health-refresh", healthWorker.Shutdown)

	if cfg.Reconciliation.Enabled {
		startReconciliation(a, sm, logger)
	} else {
		logger.Info("Reconciliation sweeps disabled; use the /cron endpoints or orchestratorctl")
	}

	// Flip health to NOT_SERVING before anything else stops so load balancers drain first.
	sm.RegisterNoErr("grpc-health", healthServer.Shutdown)

	if err := sm.WaitForShutdown(); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
	}
}

func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	return server, healthServer
}

func startReconciliation(a *app.App, sm *shutdown.Manager, logger *zap.Logger) {
	cfg := a.Config.Reconciliation

	worker := queue.NewWorker(a.RedisOpt(), cfg.WorkerConcurrency, a.Sweeper, reconciliation.Sweeps(), logger)
	if err := worker.Start(); err != nil {
		logger.Fatal("Failed to start sweep worker", zap.Error(err))
	}
	sm.RegisterNoErr("sweep-worker", worker.Shutdown)

	scheduler := queue.NewScheduler(a.RedisOpt(), logger)
	if err := scheduler.Register(a.SweepSchedules()); err != nil {
		logger.Fatal("Failed to register sweep schedules", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start sweep scheduler", zap.Error(err))
	}
	sm.RegisterNoErr("sweep-scheduler", scheduler.Shutdown)

	logger.Info("Reconciliation sweeps scheduled",
		zap.String("retry", cfg.RetryCron),
		zap.String("payment_status", cfg.PaymentStatusCron),
		zap.String("dispute", cfg.DisputeCron),
		zap.String("purge", cfg.PurgeCron),
		zap.Int("worker_concurrency", cfg.WorkerConcurrency),
	)
}
