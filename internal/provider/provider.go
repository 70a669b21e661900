// Package provider implements the cached historical data provider: a
// read-through layer that reconciles external feeds with the durable
// cache under per-(symbol, timeframe) exclusion.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/metrics"
)

// KlineStore is the slice of the cache the provider needs.
type KlineStore interface {
	BulkUpsert(ctx context.Context, symbol string, tf domain.Timeframe, klines []domain.Kline) (int, error)
	RecentKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error)
	LastCachedTime(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error)
	CachedCount(ctx context.Context, symbol string, tf domain.Timeframe) (int, error)
}

// Clock is injectable for tests; production uses the wall clock.
type Clock func() time.Time

// Provider serves the most recent candles for a key, fetching
// incrementally from the matching external source when the cache is
// short or stale. Adapter failures degrade to a stale read.
type Provider struct {
	store     KlineStore
	yahoo     adapters.KlineSource
	krx       adapters.KlineSource
	warm      WarmCache
	freshness time.Duration
	now       Clock

	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithFreshness overrides the freshness window (default five minutes).
func WithFreshness(d time.Duration) Option {
	return func(p *Provider) { p.freshness = d }
}

// WithClock injects a deterministic clock.
func WithClock(clock Clock) Option {
	return func(p *Provider) { p.now = clock }
}

// WithWarmCache puts a warm kline cache in front of the store.
func WithWarmCache(w WarmCache) Option {
	return func(p *Provider) { p.warm = w }
}

// New builds a provider over the cache and the per-market sources.
func New(store KlineStore, yahoo, krx adapters.KlineSource, opts ...Option) *Provider {
	p := &Provider{
		store:     store,
		yahoo:     yahoo,
		krx:       krx,
		freshness: 5 * time.Minute,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// lockFor returns the mutex owning a key, creating it on first use.
// Mutexes live for the provider's lifetime; no reclamation.
func (p *Provider) lockFor(key string) *sync.Mutex {
	p.mu.RLock()
	mu, ok := p.locks[key]
	p.mu.RUnlock()
	if ok {
		return mu
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if mu, ok := p.locks[key]; ok {
		return mu
	}
	mu = &sync.Mutex{}
	p.locks[key] = mu
	return mu
}

// GetKlines returns the most recent limit candles ascending. Concurrent
// calls for the same (symbol, timeframe) serialize; different keys run
// in parallel. On any failure to reach the external source the cached
// content is returned instead of an error.
func (p *Provider) GetKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	normalized := domain.ToYahooSymbol(symbol)
	key := normalized + ":" + tf.String()

	mu := p.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if p.warm != nil {
		if klines, ok := p.warm.Get(ctx, key, limit); ok {
			metrics.ProviderCacheHits.Inc()
			return klines, nil
		}
	}

	cachedCount, err := p.store.CachedCount(ctx, normalized, tf)
	if err != nil {
		return nil, err
	}
	lastCached, hasLast, err := p.store.LastCachedTime(ctx, normalized, tf)
	if err != nil {
		return nil, err
	}

	if p.needsUpdate(normalized, tf, cachedCount, limit, lastCached, hasLast) {
		p.fetchAndCache(ctx, symbol, normalized, tf, limit, lastCached, hasLast)
	} else {
		metrics.ProviderCacheHits.Inc()
	}

	p.detectAndWarnGaps(ctx, normalized, tf, limit)

	klines, err := p.store.RecentKlines(ctx, normalized, tf, limit)
	if err != nil {
		return nil, err
	}
	if p.warm != nil && len(klines) > 0 {
		p.warm.Put(ctx, key, klines, p.freshness)
	}
	return klines, nil
}

// needsUpdate is the freshness decision, evaluated in order: short
// cache, empty cache, freshness window, market hours.
func (p *Provider) needsUpdate(symbol string, tf domain.Timeframe, cachedCount, limit int, lastCached time.Time, hasLast bool) bool {
	if cachedCount < limit {
		return true
	}
	if !hasLast {
		return true
	}

	now := p.now()
	staleThreshold := lastCached.Add(tf.Duration()).Add(p.freshness)
	if now.Before(staleThreshold) {
		return false
	}

	if tf.IsIntraday() && !IsMarketActive(symbol, tf, now) {
		log.Debug().Str("symbol", symbol).Str("timeframe", tf.String()).
			Msg("market closed, skipping cache update")
		return false
	}
	return true
}

// fetchAndCache pulls limit candles from the source matching the symbol
// shape, keeps only those newer than the cache head, and upserts them.
// Failures are logged and swallowed; the caller reads the cache either
// way.
func (p *Provider) fetchAndCache(ctx context.Context, symbol, normalized string, tf domain.Timeframe, limit int, lastCached time.Time, hasLast bool) {
	source := p.yahoo
	if domain.IsPureKoreanCode(symbol) && p.krx != nil {
		source = p.krx
	}
	if source == nil {
		return
	}

	klines, err := source.FetchKlines(ctx, symbol, tf, limit, time.Time{})
	if err != nil {
		log.Warn().Err(err).Str("symbol", normalized).Str("source", source.Name()).
			Msg("fetch failed, serving cached data")
		return
	}
	metrics.ProviderFetches.WithLabelValues(source.Name()).Inc()

	if hasLast {
		fresh := klines[:0]
		for _, k := range klines {
			if k.OpenTime.After(lastCached) {
				fresh = append(fresh, k)
			}
		}
		klines = fresh
	}
	if len(klines) == 0 {
		return
	}

	// Persist under the normalized key regardless of the source's own
	// symbol rendering.
	for i := range klines {
		klines[i].Symbol = normalized
	}

	saved, err := p.store.BulkUpsert(ctx, normalized, tf, klines)
	if err != nil {
		log.Warn().Err(err).Str("symbol", normalized).
			Msg("cache write failed, discarding fetched data")
		return
	}
	log.Info().Str("symbol", normalized).Str("timeframe", tf.String()).
		Int("saved", saved).Msg("cache updated")
}

// gapFactor flags spacings wider than 1.5 candle durations.
const gapFactor = 1.5

// detectAndWarnGaps counts spacing exceedances in the cached window and
// warns. Weekends and holidays legitimately produce gaps, so this never
// errors.
func (p *Provider) detectAndWarnGaps(ctx context.Context, symbol string, tf domain.Timeframe, limit int) {
	klines, err := p.store.RecentKlines(ctx, symbol, tf, limit)
	if err != nil || len(klines) < 2 {
		return
	}

	threshold := time.Duration(float64(tf.Duration()) * gapFactor)
	gaps := 0
	for i := 1; i < len(klines); i++ {
		if klines[i].OpenTime.Sub(klines[i-1].OpenTime) > threshold {
			gaps++
		}
	}
	if gaps > 0 {
		log.Warn().Str("symbol", symbol).Str("timeframe", tf.String()).
			Int("gap_count", gaps).
			Msg("data gaps detected (expected across weekends and holidays)")
	}
}

// Warmup pre-populates the cache for a set of keys, logging per-key
// outcomes and returning the total number of candles now cached.
func (p *Provider) Warmup(ctx context.Context, entries []WarmupEntry) int {
	total := 0
	for _, e := range entries {
		klines, err := p.GetKlines(ctx, e.Symbol, e.Timeframe, e.Limit)
		if err != nil {
			log.Warn().Err(err).Str("symbol", e.Symbol).Msg("warmup failed")
			continue
		}
		total += len(klines)
	}
	return total
}

// WarmupEntry names one key to pre-populate.
type WarmupEntry struct {
	Symbol    string
	Timeframe domain.Timeframe
	Limit     int
}
