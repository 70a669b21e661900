// Package adapters defines the capability set external data sources
// implement, plus the shared rate limiting and circuit breaking every
// outbound call goes through.
package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tyeom/zeroquant/internal/domain"
)

// KlineSource fetches normalized candle sequences from one external
// source. Implementations are stateless apart from connection reuse.
type KlineSource interface {
	// Name identifies the source in logs and metrics.
	Name() string
	// FetchKlines returns up to limit candles ascending by open_time.
	// A zero start means "the most recent limit candles".
	FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int, start time.Time) ([]domain.Kline, error)
}

// FundamentalSource fetches a fundamental snapshot for one symbol.
type FundamentalSource interface {
	FetchFundamental(ctx context.Context, symbol string) (domain.FundamentalSnapshot, error)
}

// CombinedSource serves both in one upstream call where the source
// supports it.
type CombinedSource interface {
	FetchKlinesWithFundamental(ctx context.Context, symbol string) ([]domain.Kline, domain.FundamentalSnapshot, error)
}

// SourceLimiter hands out one token-bucket limiter per source name.
type SourceLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewSourceLimiter creates a limiter shared by all callers of a source.
func NewSourceLimiter(rps float64, burst int) *SourceLimiter {
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *SourceLimiter) limiter(source string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[source]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[source]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[source] = lim
	return lim
}

// Wait blocks until the source's bucket has a token or ctx is done.
func (l *SourceLimiter) Wait(ctx context.Context, source string) error {
	return l.limiter(source).Wait(ctx)
}

// Allow reports whether a call may proceed right now.
func (l *SourceLimiter) Allow(source string) bool {
	return l.limiter(source).Allow()
}

// NewBreaker builds the circuit breaker wrapped around one source. The
// breaker opens after five consecutive failures and probes again after
// thirty seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
