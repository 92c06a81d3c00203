// Package app builds the orchestrator's object graph from configuration. The server binary and
// the operator CLI share it so both drive the same services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-orchestrator/internal/adapters/cache"
	"github.com/kevin07696/payment-orchestrator/internal/adapters/gateway/card"
	walletgw "github.com/kevin07696/payment-orchestrator/internal/adapters/gateway/wallet"
	"github.com/kevin07696/payment-orchestrator/internal/adapters/postgres"
	"github.com/kevin07696/payment-orchestrator/internal/adapters/queue"
	"github.com/kevin07696/payment-orchestrator/internal/adapters/storage"
	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
	"github.com/kevin07696/payment-orchestrator/internal/services/idempotency"
	"github.com/kevin07696/payment-orchestrator/internal/services/notify"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment_method"
	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
	"github.com/kevin07696/payment-orchestrator/internal/services/refund"
	"github.com/kevin07696/payment-orchestrator/internal/services/wallet"
	"github.com/kevin07696/payment-orchestrator/internal/services/webhook"
	httpclient "github.com/kevin07696/payment-orchestrator/pkg/http"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
)

const (
	paymentMethodCacheTTL  = 5 * time.Minute
	paymentMethodCacheSize = 10000
)

// App holds every long-lived component. Wallet is nil when the wallet gateway is disabled.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Timeouts resilience.TimeoutConfig

	Pool    *pgxpool.Pool
	DB      *postgres.DBExecutor
	Redis   *redis.Client
	Queue   *asynq.Client
	Secrets ports.SecretStore

	Ledger         *idempotency.Ledger
	Payments       *payment.Service
	Refunds        *refund.Service
	Disputes       *dispute.Service
	Wallet         *wallet.Service
	PaymentMethods *payment_method.Service
	Ingestor       *webhook.Ingestor
	Sweeper        *reconciliation.Sweeper
	Health         *observability.HealthChecker

	closers []func() error
}

// New connects to every backing service and assembles the services. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	a = &App{
		Config:   cfg,
		Logger:   logger,
		Timeouts: resilience.DefaultTimeoutConfig(),
		Health:   observability.NewHealthChecker(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if a.Secrets, err = newSecretStore(ctx, cfg.Secrets, logger); err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}

	a.Pool, err = postgres.NewPool(ctx, postgres.PoolConfig{
		DatabaseURL:     cfg.Database.ConnectionString(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.onClose(func() error { a.Pool.Close(); return nil })
	a.DB = postgres.NewDBExecutor(a.Pool)
	a.Health.AddCheck("database", a.DB.Ping)

	a.Redis, err = cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.onClose(a.Redis.Close)
	a.Health.AddCheck("redis", func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })

	a.Queue = asynq.NewClient(a.RedisOpt())
	a.onClose(a.Queue.Close)

	archive, err := a.newEvidenceArchive(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence archive: %w", err)
	}

	cardGateway, err := a.newCardGateway(ctx)
	if err != nil {
		return nil, fmt.Errorf("card gateway: %w", err)
	}
	walletGateway, err := a.newWalletGateway(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet gateway: %w", err)
	}

	a.buildServices(cardGateway, walletGateway, archive)

	if err := a.buildIngestor(cardGateway, walletGateway); err != nil {
		return nil, fmt.Errorf("webhooks: %w", err)
	}
	a.buildSweeper()

	logger.Info("Application initialized",
		zap.String("environment", cfg.Server.Environment),
		zap.String("secrets_backend", cfg.Secrets.Backend),
		zap.Bool("wallet_enabled", a.Wallet != nil),
		zap.Bool("evidence_archive_enabled", archive != nil),
	)
	return a, nil
}

// RedisOpt returns the asynq connection options for the configured Redis.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return queue.RedisOpt(a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newExecutor() *resilience.Executor {
	rc := a.Config.Retry
	policy := resilience.RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		Backoff: &resilience.ExponentialBackoff{
			BaseDelay:  rc.BaseDelay,
			MaxDelay:   rc.MaxDelay,
			Multiplier: rc.Multiplier,
			Jitter:     0.1,
		},
		Retryable: resilience.DefaultRetryTable(),
	}
	return resilience.NewExecutor(policy, a.Logger, resilience.WithObserver(observability.GatewayObserver{}))
}

func (a *App) newCardGateway(ctx context.Context) (*card.Client, error) {
	cc := a.Config.CardGateway
	apiKey, err := resolveSecret(ctx, a.Secrets, cc.APIKey, cc.APIKeyPath)
	if err != nil {
		return nil, err
	}
	cardCfg := card.DefaultConfig()
	if cc.BaseURL != "" {
		cardCfg.BaseURL = cc.BaseURL
	}
	if cc.Timeout > 0 {
		cardCfg.Timeout = cc.Timeout
	}
	cardCfg.APIKey = apiKey
	client := httpclient.NewHTTPClient(httpclient.GatewayClientConfig(), cardCfg.Timeout)
	return card.NewClient(cardCfg, client, a.Logger), nil
}

func (a *App) newWalletGateway(ctx context.Context) (*walletgw.Client, error) {
	wc := a.Config.WalletGateway
	if !wc.Enabled {
		return nil, nil
	}
	clientSecret, err := resolveSecret(ctx, a.Secrets, wc.ClientSecret, wc.ClientSecretPath)
	if err != nil {
		return nil, err
	}
	client := httpclient.NewHTTPClient(httpclient.GatewayClientConfig(), wc.Timeout)
	return walletgw.NewClient(walletgw.Config{
		BaseURL:      wc.BaseURL,
		ClientID:     wc.ClientID,
		ClientSecret: clientSecret,
		BrandName:    wc.BrandName,
		Timeout:      wc.Timeout,
		Breaker:      resilience.DefaultCircuitBreakerConfig(),
	}, client, a.Logger), nil
}

func (a *App) newEvidenceArchive(ctx context.Context) (ports.EvidenceArchive, error) {
	sc := a.Config.Storage
	if !sc.Enabled {
		a.Health.AddCheck("evidence_archive", nil)
		return nil, nil
	}
	client, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  sc.Endpoint,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Bucket:    sc.Bucket,
		UseSSL:    sc.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	a.Health.AddCheck("evidence_archive", bucketCheck(client, sc.Bucket))
	return storage.NewEvidenceArchive(client, sc.Bucket, a.Logger), nil
}

func bucketCheck(client *minio.Client, bucket string) observability.CheckFunc {
	return func(ctx context.Context) error {
		ok, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		return nil
	}
}

func (a *App) buildServices(cardGateway *card.Client, walletGateway *walletgw.Client, archive ports.EvidenceArchive) {
	logger := a.Logger
	executor := a.newExecutor()

	a.Ledger = idempotency.NewLedger(postgres.NewIdempotencyRepository(a.DB), idempotency.Config{
		AwaitTimeout: a.Config.Idempotency.AwaitTimeout,
		Retention:    a.Config.Idempotency.Retention,
	}, logger)

	publisher := notify.NewPublisher(queue.NewNotifier(a.Queue, logger), logger)

	orders := postgres.NewOrderRepository(a.DB)
	txns := postgres.NewTransactionRepository(a.DB)
	customers := postgres.NewCustomerRepository(a.DB)
	methods := payment_method.NewCachedRepository(postgres.NewPaymentMethodRepository(a.DB), logger,
		paymentMethodCacheTTL, paymentMethodCacheSize)

	a.Payments = payment.NewService(payment.Deps{
		Tx:        a.DB,
		Orders:    orders,
		Txns:      txns,
		Methods:   methods,
		Customers: customers,
		Gateway:   cardGateway,
		Ledger:    a.Ledger,
		Executor:  executor,
		Publisher: publisher,
		Logger:    logger,
	})

	a.Refunds = refund.NewService(refund.Deps{
		Tx:        a.DB,
		Orders:    orders,
		Txns:      txns,
		Refunds:   postgres.NewRefundRepository(a.DB),
		Gateway:   cardGateway,
		Ledger:    a.Ledger,
		Executor:  executor,
		Publisher: publisher,
		Logger:    logger,
	})

	a.Disputes = dispute.NewService(dispute.Deps{
		Tx:        a.DB,
		Orders:    orders,
		Txns:      txns,
		Disputes:  postgres.NewDisputeRepository(a.DB),
		Gateway:   cardGateway,
		Archive:   archive,
		Ledger:    a.Ledger,
		Executor:  executor,
		Publisher: publisher,
		Logger:    logger,
	})

	a.PaymentMethods = payment_method.NewService(payment_method.Deps{
		Tx:        a.DB,
		Methods:   methods,
		Customers: customers,
		Gateway:   cardGateway,
		Ledger:    a.Ledger,
		Executor:  executor,
		Logger:    logger,
	})

	if walletGateway != nil {
		a.Wallet = wallet.NewService(wallet.Deps{
			Tx:        a.DB,
			Orders:    orders,
			Txns:      txns,
			Gateway:   walletGateway,
			Ledger:    a.Ledger,
			Executor:  executor,
			Publisher: publisher,
			Logger:    logger,
		})
		a.Payments.SetWalletSyncer(a.Wallet)
	}
}

func (a *App) buildIngestor(cardGateway *card.Client, walletGateway *walletgw.Client) error {
	wh := a.Config.Webhook
	deps := webhook.Deps{
		CardDecoder: cardGateway,
		CardSecrets: a.signingSecrets(wh.CardSecret, wh.CardPreviousSecret, wh.CardSecretPath),
		Events:      postgres.NewWebhookEventRepository(a.DB),
		Payments:    a.Payments,
		Refunds:     a.Refunds,
		Disputes:    a.Disputes,
		Tolerance:   wh.Tolerance,
		Logger:      a.Logger,
	}
	if walletGateway != nil {
		deps.WalletDecoder = walletGateway
		deps.WalletSecrets = a.signingSecrets(wh.WalletSecret, wh.WalletPreviousSecret, wh.WalletSecretPath)
		deps.Wallet = a.Wallet
	}
	if deps.CardSecrets == nil {
		return errors.New("card webhook secret is not configured")
	}
	a.Ingestor = webhook.NewIngestor(deps)
	return nil
}

// signingSecrets prefers the secret store so rotations apply without a restart.
func (a *App) signingSecrets(current, previous, path string) webhook.SecretSource {
	if path != "" {
		return webhook.StoreSecrets{Store: a.Secrets, Path: path}
	}
	if current == "" {
		return nil
	}
	return webhook.StaticSecrets{Current: current, Previous: previous}
}

func (a *App) buildSweeper() {
	rc := a.Config.Reconciliation
	deps := reconciliation.Deps{
		Ledger:         a.Ledger,
		Txns:           postgres.NewTransactionRepository(a.DB),
		Payments:       a.Payments,
		Refunds:        a.Refunds,
		Disputes:       a.Disputes,
		PaymentMethods: a.PaymentMethods,
		Locker:         cache.NewSweepLocker(a.Redis, rc.LeasePrefix, a.Logger),
		Config: reconciliation.Config{
			RetryWindow:  rc.RetryWindow,
			StatusWindow: rc.StatusWindow,
			BatchSize:    rc.BatchSize,
			LeaseTTL:     rc.LeaseTTL,
		},
		Logger: a.Logger,
	}
	if a.Wallet != nil {
		deps.Wallet = a.Wallet
	}
	a.Sweeper = reconciliation.NewSweeper(deps)
}

// SweepSchedules maps each sweep to its configured cron spec.
func (a *App) SweepSchedules() []queue.SweepSchedule {
	rc := a.Config.Reconciliation
	specs := map[string]string{
		reconciliation.SweepRetry:         rc.RetryCron,
		reconciliation.SweepPaymentStatus: rc.PaymentStatusCron,
		reconciliation.SweepDispute:       rc.DisputeCron,
		reconciliation.SweepPurgeLedger:   rc.PurgeCron,
	}
	schedules := make([]queue.SweepSchedule, 0, len(specs))
	for _, sweep := range reconciliation.Sweeps() {
		schedules = append(schedules, queue.SweepSchedule{
			Sweep:   sweep,
			Cron:    specs[sweep],
			Timeout: rc.SweepTaskTimeout,
		})
	}
	return schedules
}
