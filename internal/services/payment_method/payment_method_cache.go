package payment_method

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	// Cache metrics
	// Note: paymentMethodCacheHits uses no labels to avoid allocation overhead on the hot path
	paymentMethodCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_method_cache_hits_total",
		Help: "Total number of payment method cache hits",
	})

	paymentMethodCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_method_cache_misses_total",
		Help: "Total number of payment method cache misses",
	}, []string{"reason"}) // expired, not_found, error

	paymentMethodCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payment_method_cache_size",
		Help: "Current number of payment methods in cache",
	})

	paymentMethodCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_method_cache_evictions_total",
		Help: "Total number of cache evictions due to size limit",
	})
)

// CachedRepository is a read-through cache in front of a PaymentMethodRepository.
// Only GetByID outside a transaction is served from cache; every write through the
// decorator invalidates the affected entries. Reads inside a transaction always hit
// the database so locked reads stay consistent.
//
// Eviction is approximate LRU: when the cache grows past maxSize the least recently
// accessed tenth is dropped.
type CachedRepository struct {
	ports.PaymentMethodRepository

	cache  sync.Map // map[string]*cachedPaymentMethod
	logger *zap.Logger
	now    func() time.Time

	ttl     time.Duration
	maxSize int

	accessTimes sync.Map // map[string]time.Time
	mu          sync.Mutex
}

type cachedPaymentMethod struct {
	pm        domain.CustomerPaymentMethod
	expiresAt time.Time
}

// NewCachedRepository wraps repo.
func NewCachedRepository(repo ports.PaymentMethodRepository, logger *zap.Logger, ttl time.Duration, maxSize int) *CachedRepository {
	return &CachedRepository{
		PaymentMethodRepository: repo,
		logger:                  logger,
		now:                     time.Now,
		ttl:                     ttl,
		maxSize:                 maxSize,
	}
}

// GetByID serves non-transactional reads from cache.
func (c *CachedRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.CustomerPaymentMethod, error) {
	if tx != nil {
		return c.PaymentMethodRepository.GetByID(ctx, tx, id)
	}

	if val, ok := c.cache.Load(id); ok {
		cached := val.(*cachedPaymentMethod)
		if c.now().Before(cached.expiresAt) {
			c.accessTimes.Store(id, c.now())
			paymentMethodCacheHits.Inc()
			pm := cached.pm
			return &pm, nil
		}
		paymentMethodCacheMisses.WithLabelValues("expired").Inc()
	} else {
		paymentMethodCacheMisses.WithLabelValues("not_found").Inc()
	}

	pm, err := c.PaymentMethodRepository.GetByID(ctx, nil, id)
	if err != nil {
		if !domain.IsNotFoundError(err) {
			paymentMethodCacheMisses.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	now := c.now()
	c.cache.Store(id, &cachedPaymentMethod{pm: *pm, expiresAt: now.Add(c.ttl)})
	c.accessTimes.Store(id, now)
	c.evictIfNeeded()
	c.updateCacheSize()
	return pm, nil
}

func (c *CachedRepository) Create(ctx context.Context, tx ports.DBTX, pm *domain.CustomerPaymentMethod) error {
	c.invalidateUser(pm.UserID)
	return c.PaymentMethodRepository.Create(ctx, tx, pm)
}

func (c *CachedRepository) ClearDefault(ctx context.Context, tx ports.DBTX, userID string) error {
	c.invalidateUser(userID)
	return c.PaymentMethodRepository.ClearDefault(ctx, tx, userID)
}

func (c *CachedRepository) SetDefault(ctx context.Context, tx ports.DBTX, id string) error {
	c.Invalidate(id)
	return c.PaymentMethodRepository.SetDefault(ctx, tx, id)
}

func (c *CachedRepository) Delete(ctx context.Context, tx ports.DBTX, id string) error {
	c.Invalidate(id)
	return c.PaymentMethodRepository.Delete(ctx, tx, id)
}

// Invalidate removes one payment method from the cache.
func (c *CachedRepository) Invalidate(id string) {
	c.cache.Delete(id)
	c.accessTimes.Delete(id)
	c.updateCacheSize()
}

// invalidateUser drops every cached method of a user; default flags change together.
func (c *CachedRepository) invalidateUser(userID string) {
	count := 0
	c.cache.Range(func(key, value interface{}) bool {
		if value.(*cachedPaymentMethod).pm.UserID == userID {
			c.cache.Delete(key)
			c.accessTimes.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		c.updateCacheSize()
		c.logger.Debug("Invalidated payment methods by user",
			zap.String("user_id", userID),
			zap.Int("count", count),
		)
	}
}

func (c *CachedRepository) evictIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.size()
	if size <= c.maxSize {
		return
	}

	type entry struct {
		id         string
		accessTime time.Time
	}
	var entries []entry
	c.accessTimes.Range(func(key, value interface{}) bool {
		entries = append(entries, entry{id: key.(string), accessTime: value.(time.Time)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].accessTime.Before(entries[j].accessTime) })

	evictCount := (size - c.maxSize) + (c.maxSize / 10)
	for i := 0; i < evictCount && i < len(entries); i++ {
		c.cache.Delete(entries[i].id)
		c.accessTimes.Delete(entries[i].id)
		paymentMethodCacheEvictions.Inc()
	}
}

func (c *CachedRepository) size() int {
	size := 0
	c.cache.Range(func(key, value interface{}) bool {
		size++
		return true
	})
	return size
}

func (c *CachedRepository) updateCacheSize() {
	paymentMethodCacheSize.Set(float64(c.size()))
}

var _ ports.PaymentMethodRepository = (*CachedRepository)(nil)
