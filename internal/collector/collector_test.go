package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/storage/postgres"
)

// memCheckpoints is an in-memory CheckpointStore.
type memCheckpoints struct {
	mu  sync.Mutex
	cps map[string]postgres.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cps: make(map[string]postgres.Checkpoint)}
}

func (m *memCheckpoints) Save(_ context.Context, task, lastKey string, progress int, status postgres.CheckpointStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[task] = postgres.Checkpoint{
		TaskName:         task,
		LastProcessedKey: lastKey,
		ProgressCount:    progress,
		Status:           status,
		UpdatedAt:        time.Now(),
	}
	return nil
}

func (m *memCheckpoints) Load(_ context.Context, task string) (postgres.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[task]
	return cp, ok, nil
}

func (m *memCheckpoints) AcquireRun(_ context.Context, task string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.cps[task]; ok && cp.Status == postgres.CheckpointRunning {
		return false, nil
	}
	m.cps[task] = postgres.Checkpoint{TaskName: task, Status: postgres.CheckpointRunning}
	return true, nil
}

// fakeFundamentalStore serves a fixed universe and records upserts.
type fakeFundamentalStore struct {
	mu       sync.Mutex
	universe []postgres.StaleFundamentalSymbol
	upserted []int64
}

func (f *fakeFundamentalStore) StaleFundamentals(_ context.Context, _ time.Time, limit int, afterTicker string) ([]postgres.StaleFundamentalSymbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postgres.StaleFundamentalSymbol, 0)
	for _, s := range f.universe {
		if s.Ticker > afterTicker {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFundamentalStore) UpsertFundamental(_ context.Context, symbolID int64, _ domain.FundamentalSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, symbolID)
	return nil
}

type fakeKlineWriter struct{}

func (fakeKlineWriter) BulkUpsert(_ context.Context, _ string, _ domain.Timeframe, klines []domain.Kline) (int, error) {
	return len(klines), nil
}

// fakeCombined counts fetches and can fail for chosen symbols.
type fakeCombined struct {
	mu      sync.Mutex
	fetched []string
	failFor map[string]bool
}

func (f *fakeCombined) FetchKlinesWithFundamental(_ context.Context, symbol string) ([]domain.Kline, domain.FundamentalSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, symbol)
	if f.failFor[symbol] {
		return nil, domain.FundamentalSnapshot{}, assertError{}
	}
	cap := decimal.NewFromInt(1000)
	return nil, domain.FundamentalSnapshot{Ticker: symbol, MarketCap: &cap, FetchedAt: time.Now()}, nil
}

type assertError struct{}

func (assertError) Error() string { return "upstream failed" }

func universe(tickers ...string) []postgres.StaleFundamentalSymbol {
	out := make([]postgres.StaleFundamentalSymbol, len(tickers))
	for i, t := range tickers {
		out[i] = postgres.StaleFundamentalSymbol{SymbolID: int64(i + 1), Ticker: t}
	}
	return out
}

func taskConfig() config.CollectorTaskConfig {
	return config.CollectorTaskConfig{
		BatchSize:      200,
		RequestDelay:   0,
		StaleThreshold: 24 * time.Hour,
	}
}

func TestFundamentalCollectorProcessesBatch(t *testing.T) {
	store := &fakeFundamentalStore{universe: universe("AAA", "BBB", "CCC")}
	source := &fakeCombined{}
	cps := newMemCheckpoints()

	c := NewFundamentalCollector(store, fakeKlineWriter{}, source, cps, taskConfig())
	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Success)
	assert.Equal(t, []int64{1, 2, 3}, store.upserted)

	cp, ok, _ := cps.Load(context.Background(), "fundamental_sync")
	require.True(t, ok)
	assert.Equal(t, postgres.CheckpointCompleted, cp.Status)
}

func TestFundamentalCollectorContinuesPastErrors(t *testing.T) {
	store := &fakeFundamentalStore{universe: universe("AAA", "BBB", "CCC")}
	source := &fakeCombined{failFor: map[string]bool{"BBB": true}}
	cps := newMemCheckpoints()

	c := NewFundamentalCollector(store, fakeKlineWriter{}, source, cps, taskConfig())
	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Success)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, []int64{1, 3}, store.upserted)
}

func TestFundamentalCollectorResumesFromCheckpoint(t *testing.T) {
	store := &fakeFundamentalStore{universe: universe("AAA", "BBB", "CCC", "DDD")}
	source := &fakeCombined{}
	cps := newMemCheckpoints()

	// Simulate a crash after BBB: running checkpoint at BBB.
	require.NoError(t, cps.Save(context.Background(), "fundamental_sync", "BBB", 2, postgres.CheckpointRunning))

	c := NewFundamentalCollector(store, fakeKlineWriter{}, source, cps, taskConfig())
	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	// Only CCC and DDD process after the resume point.
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, []string{"CCC", "DDD"}, source.fetched)
}

func TestFundamentalCollectorAtMostTwiceAcrossCrash(t *testing.T) {
	tickers := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		tickers = append(tickers, string(rune('A'+i/26))+string(rune('A'+i%26))+"X")
	}
	store := &fakeFundamentalStore{universe: universe(tickers...)}
	source := &fakeCombined{}
	cps := newMemCheckpoints()

	// First run cancelled partway: cancel after ~120 symbols.
	ctx, cancel := context.WithCancel(context.Background())
	cfg := taskConfig()
	counting := &cancellingSource{inner: source, cancel: cancel, after: 120}
	c := NewFundamentalCollector(store, fakeKlineWriter{}, counting, cps, cfg)
	_, err := c.Run(ctx)
	require.Error(t, err)

	// Second run resumes from the checkpoint and finishes.
	c2 := NewFundamentalCollector(store, fakeKlineWriter{}, counting, cps, cfg)
	_, err = c2.Run(context.Background())
	require.NoError(t, err)

	// Each symbol fetched at most twice.
	seen := map[string]int{}
	for _, s := range source.fetched {
		seen[s]++
		assert.LessOrEqual(t, seen[s], 2, "symbol %s processed more than twice", s)
	}
	// And every symbol was processed at least once.
	assert.GreaterOrEqual(t, len(seen), 200)
}

// cancellingSource cancels the context after N fetches.
type cancellingSource struct {
	inner  *fakeCombined
	cancel context.CancelFunc
	after  int
	count  int
}

func (c *cancellingSource) FetchKlinesWithFundamental(ctx context.Context, symbol string) ([]domain.Kline, domain.FundamentalSnapshot, error) {
	c.count++
	if c.count == c.after {
		c.cancel()
	}
	return c.inner.FetchKlinesWithFundamental(ctx, symbol)
}

func TestCheckpointAcquireRunRefusesOverlappingRuns(t *testing.T) {
	cps := newMemCheckpoints()

	// Mark the task running: AcquireRun must refuse.
	require.NoError(t, cps.Save(context.Background(), "fundamental_sync", "", 0, postgres.CheckpointRunning))
	acquired, err := cps.AcquireRun(context.Background(), "fundamental_sync")
	require.NoError(t, err)
	assert.False(t, acquired)

	// A completed task reacquires.
	require.NoError(t, cps.Save(context.Background(), "fundamental_sync", "", 0, postgres.CheckpointCompleted))
	acquired, err = cps.AcquireRun(context.Background(), "fundamental_sync")
	require.NoError(t, err)
	assert.True(t, acquired)
}
