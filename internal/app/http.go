package app

import (
	"context"
	"net/http"

	"connectrpc.com/grpchealth"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kevin07696/payment-orchestrator/internal/auth"
	cronHandler "github.com/kevin07696/payment-orchestrator/internal/handlers/cron"
	paymentHandler "github.com/kevin07696/payment-orchestrator/internal/handlers/payment"
	webhookHandler "github.com/kevin07696/payment-orchestrator/internal/handlers/webhook"
	authmw "github.com/kevin07696/payment-orchestrator/internal/middleware"
	"github.com/kevin07696/payment-orchestrator/pkg/middleware"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
)

// HealthServiceName is the service name reported over the gRPC health protocol.
const HealthServiceName = "payment.orchestrator.v1"

// HTTPHandler builds the public HTTP surface:
//
//	/api/v1/...   bearer-authenticated REST API, rate limited per caller
//	/webhooks/... signed gateway deliveries
//	/cron/...     sweep triggers for an external scheduler
//	/grpc.health.v1.Health/Check over h2c
//
// The returned stop func releases the rate limiter.
func (a *App) HTTPHandler() (http.Handler, func(), error) {
	logger := a.Logger
	cfg := a.Config

	api := paymentHandler.NewHandler(paymentHandler.Deps{
		Intents:        a.Payments,
		Refunds:        a.Refunds,
		Wallet:         a.walletAPI(),
		Disputes:       a.Disputes,
		PaymentMethods: a.PaymentMethods,
		Logger:         logger,
	})
	gwMux := runtime.NewServeMux()
	if err := api.Register(gwMux); err != nil {
		return nil, nil, err
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger,
		middleware.WithKeyFunc(callerKey))
	authn := authmw.NewAuthenticator(auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger)
	security := authmw.NewSecurityHeaders(cfg.Server.IsDevelopment())

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.Chain(gwMux,
		middleware.Recovery(logger),
		middleware.Metrics("api"),
		middleware.Logging(logger),
		authmw.RequestContext,
		security.Middleware,
		middleware.Timeout(a.Timeouts.HandlerContext, logger),
		authn.RequireUser,
		limiter.Middleware,
	))

	webhookMux := http.NewServeMux()
	webhookHandler.NewHandler(a.Ingestor, logger).Register(webhookMux)
	mux.Handle("/webhooks/", middleware.Chain(webhookMux,
		middleware.Recovery(logger),
		middleware.Metrics("webhooks"),
		middleware.Logging(logger),
		authmw.RequestContext,
		middleware.Timeout(a.Timeouts.WebhookContext, logger),
	))

	cronMux := http.NewServeMux()
	cronHandler.NewSweepHandler(a.Sweeper, logger, cfg.Cron.Secret).Register(cronMux)
	mux.Handle("/cron/", middleware.Chain(cronMux,
		middleware.Recovery(logger),
		middleware.Metrics("cron"),
		middleware.Logging(logger),
		middleware.Timeout(a.Timeouts.SweepContext, logger),
	))

	mux.Handle(grpchealth.NewHandler(&healthBridge{checker: a.Health}))

	return h2c.NewHandler(mux, &http2.Server{}), limiter.Shutdown, nil
}

// walletAPI keeps a disabled wallet a nil interface rather than a typed nil.
func (a *App) walletAPI() paymentHandler.WalletService {
	if a.Wallet == nil {
		return nil
	}
	return a.Wallet
}

// callerKey limits authenticated callers per user and everyone else per client IP.
func callerKey(r *http.Request) string {
	if userID := auth.UserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + authmw.ClientIP(r)
}

// healthBridge answers gRPC health checks from the dependency checks.
type healthBridge struct {
	checker *observability.HealthChecker
}

func (h *healthBridge) Check(ctx context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if req.Service != "" && req.Service != HealthServiceName {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusUnknown}, nil
	}
	if h.checker.Check(ctx).Status != "healthy" {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}
