package provider

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/domain"
)

// fakeStore is an in-memory KlineStore with the upsert conflict policy
// of the real cache.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]map[time.Time]domain.Kline // key -> open_time -> kline
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[time.Time]domain.Kline)}
}

func storeKey(symbol string, tf domain.Timeframe) string {
	return symbol + ":" + tf.String()
}

func (s *fakeStore) BulkUpsert(_ context.Context, symbol string, tf domain.Timeframe, klines []domain.Kline) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(symbol, tf)
	if s.rows[key] == nil {
		s.rows[key] = make(map[time.Time]domain.Kline)
	}
	for _, k := range klines {
		if old, ok := s.rows[key][k.OpenTime]; ok {
			k.High = decimal.Max(old.High, k.High)
			k.Low = decimal.Min(old.Low, k.Low)
		}
		s.rows[key][k.OpenTime] = k
	}
	return len(klines), nil
}

func (s *fakeStore) RecentKlines(_ context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]domain.Kline, 0)
	for _, k := range s.rows[storeKey(symbol, tf)] {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenTime.Before(all[j].OpenTime) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fakeStore) LastCachedTime(_ context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	found := false
	for open := range s.rows[storeKey(symbol, tf)] {
		if open.After(last) {
			last = open
			found = true
		}
	}
	return last, found, nil
}

func (s *fakeStore) CachedCount(_ context.Context, symbol string, tf domain.Timeframe) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[storeKey(symbol, tf)]), nil
}

// fakeSource counts fetches and serves a fixed daily history ending at
// head.
type fakeSource struct {
	mu      sync.Mutex
	name    string
	head    time.Time
	history int
	calls   int
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchKlines(_ context.Context, symbol string, tf domain.Timeframe, limit int, _ time.Time) ([]domain.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := min(limit, f.history)
	klines := make([]domain.Kline, 0, n)
	for i := n - 1; i >= 0; i-- {
		open := f.head.Add(-time.Duration(i) * tf.Duration())
		price := decimal.NewFromInt(int64(100 + i))
		klines = append(klines, domain.Kline{
			Symbol:    domain.ToYahooSymbol(symbol),
			Timeframe: tf,
			OpenTime:  open,
			CloseTime: open.Add(tf.Duration()),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(2)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price.Add(decimal.NewFromInt(1)),
			Volume:    decimal.NewFromInt(1000),
		})
	}
	return klines, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func usMarketOpen() time.Time {
	// Tuesday 2024-02-06 15:00 UTC = 10:00 ET.
	return time.Date(2024, 2, 6, 15, 0, 0, 0, time.UTC)
}

func TestColdRead(t *testing.T) {
	now := usMarketOpen()
	store := newFakeStore()
	src := &fakeSource{name: "yahoo", head: domain.AlignToTimeframe(now, domain.D1), history: 500}
	p := New(store, src, nil, WithClock(func() time.Time { return now }))

	klines, err := p.GetKlines(context.Background(), "AAPL", domain.D1, 100)
	require.NoError(t, err)
	assert.Len(t, klines, 100)
	assert.Equal(t, 1, src.callCount())

	// Ascending.
	for i := 1; i < len(klines); i++ {
		assert.True(t, klines[i].OpenTime.After(klines[i-1].OpenTime))
	}

	count, _ := store.CachedCount(context.Background(), "AAPL", domain.D1)
	assert.Equal(t, 100, count)

	// Second immediate identical call: fresh, no fetch.
	_, err = p.GetKlines(context.Background(), "AAPL", domain.D1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount())
}

func TestConcurrentIdenticalRequests(t *testing.T) {
	now := usMarketOpen()
	store := newFakeStore()
	src := &fakeSource{name: "yahoo", head: domain.AlignToTimeframe(now, domain.D1), history: 500}
	p := New(store, src, nil, WithClock(func() time.Time { return now }))

	var wg sync.WaitGroup
	results := make([][]domain.Kline, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			klines, err := p.GetKlines(context.Background(), "AAPL", domain.D1, 100)
			require.NoError(t, err)
			results[i] = klines
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, src.callCount(), "adapter must be called exactly once")
	require.Len(t, results[0], 100)
	require.Len(t, results[1], 100)
	for i := range results[0] {
		assert.True(t, results[0][i].OpenTime.Equal(results[1][i].OpenTime))
		assert.True(t, results[0][i].Close.Equal(results[1][i].Close))
	}
}

func TestIncrementalUpdate(t *testing.T) {
	now := usMarketOpen()
	store := newFakeStore()

	// Pre-seed 100 daily candles ending five days ago.
	oldHead := domain.AlignToTimeframe(now.AddDate(0, 0, -5), domain.D1)
	seed := &fakeSource{name: "seed", head: oldHead, history: 100}
	seeded, _ := seed.FetchKlines(context.Background(), "AAPL", domain.D1, 100, time.Time{})
	_, err := store.BulkUpsert(context.Background(), "AAPL", domain.D1, seeded)
	require.NoError(t, err)

	src := &fakeSource{name: "yahoo", head: domain.AlignToTimeframe(now.AddDate(0, 0, -1), domain.D1), history: 100}
	p := New(store, src, nil, WithClock(func() time.Time { return now }))

	_, err = p.GetKlines(context.Background(), "AAPL", domain.D1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount())

	// Only candles newer than the old head were added: 100 + 4 new days.
	count, _ := store.CachedCount(context.Background(), "AAPL", domain.D1)
	assert.Equal(t, 104, count)
}

func TestWeekendSkipKoreanIntraday(t *testing.T) {
	// Saturday 11:00 KST = 02:00 UTC.
	saturday := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	store := newFakeStore()

	// Cache already holds 50 five-minute candles (stale by now).
	head := saturday.Add(-20 * time.Hour).Truncate(5 * time.Minute)
	seed := &fakeSource{name: "seed", head: head, history: 50}
	seeded, _ := seed.FetchKlines(context.Background(), "005930", domain.M5, 50, time.Time{})
	_, err := store.BulkUpsert(context.Background(), "005930.KS", domain.M5, seeded)
	require.NoError(t, err)

	krx := &fakeSource{name: "krx", head: head, history: 50}
	yahoo := &fakeSource{name: "yahoo", head: head, history: 50}
	p := New(store, yahoo, krx, WithClock(func() time.Time { return saturday }))

	klines, err := p.GetKlines(context.Background(), "005930", domain.M5, 50)
	require.NoError(t, err)
	assert.Len(t, klines, 50)
	assert.Equal(t, 0, krx.callCount(), "market closed: no fetch")
	assert.Equal(t, 0, yahoo.callCount())
}

func TestAdapterFailureDegradesToStaleRead(t *testing.T) {
	now := usMarketOpen()
	store := newFakeStore()

	head := domain.AlignToTimeframe(now.AddDate(0, 0, -10), domain.D1)
	seed := &fakeSource{name: "seed", head: head, history: 100}
	seeded, _ := seed.FetchKlines(context.Background(), "AAPL", domain.D1, 100, time.Time{})
	_, err := store.BulkUpsert(context.Background(), "AAPL", domain.D1, seeded)
	require.NoError(t, err)

	src := &fakeSource{name: "yahoo", err: assert.AnError}
	p := New(store, src, nil, WithClock(func() time.Time { return now }))

	klines, err := p.GetKlines(context.Background(), "AAPL", domain.D1, 100)
	require.NoError(t, err, "adapter failure must not surface")
	assert.Len(t, klines, 100)
	assert.Equal(t, 1, src.callCount())
}

func TestKoreanSymbolRoutesToKRX(t *testing.T) {
	// Daily timeframe: market hours do not gate.
	now := usMarketOpen()
	store := newFakeStore()
	krx := &fakeSource{name: "krx", head: domain.AlignToTimeframe(now, domain.D1), history: 200}
	yahoo := &fakeSource{name: "yahoo", head: domain.AlignToTimeframe(now, domain.D1), history: 200}
	p := New(store, yahoo, krx, WithClock(func() time.Time { return now }))

	_, err := p.GetKlines(context.Background(), "005930", domain.D1, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, krx.callCount())
	assert.Equal(t, 0, yahoo.callCount())
}

func TestMonotonicMostRecentTimestamp(t *testing.T) {
	now := usMarketOpen()
	store := newFakeStore()
	src := &fakeSource{name: "yahoo", head: domain.AlignToTimeframe(now, domain.D1), history: 300}
	p := New(store, src, nil, WithClock(func() time.Time { return now }))

	var lastHead time.Time
	for i := 0; i < 3; i++ {
		klines, err := p.GetKlines(context.Background(), "AAPL", domain.D1, 50)
		require.NoError(t, err)
		require.NotEmpty(t, klines)
		head := klines[len(klines)-1].OpenTime
		assert.False(t, head.Before(lastHead), "most recent timestamp regressed")
		lastHead = head
	}
}
