// Package yahoo fetches candles and fundamentals from the Yahoo Finance
// chart and quote-summary endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/metrics"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Adapter is the Yahoo Finance kline source.
type Adapter struct {
	client  *http.Client
	baseURL string
	limiter *adapters.SourceLimiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a Yahoo adapter with the shared limiter.
func New(client *http.Client, limiter *adapters.SourceLimiter) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		client:  client,
		baseURL: defaultBaseURL,
		limiter: limiter,
		breaker: adapters.NewBreaker("yahoo"),
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (a *Adapter) WithBaseURL(url string) *Adapter {
	a.baseURL = url
	return a
}

// Name implements adapters.KlineSource.
func (a *Adapter) Name() string { return "yahoo" }

// chartResponse mirrors the interleaved timestamp/OHLCV arrays of the
// chart endpoint. Null entries surface as nil pointers.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// intervalFor maps a timeframe onto Yahoo's interval tokens.
func intervalFor(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.M1:
		return "1m", nil
	case domain.M5:
		return "5m", nil
	case domain.M15:
		return "15m", nil
	case domain.M30:
		return "30m", nil
	case domain.H1:
		return "60m", nil
	case domain.D1:
		return "1d", nil
	case domain.W1:
		return "1wk", nil
	case domain.MN1:
		return "1mo", nil
	default:
		return "", errs.InvalidParameter("timeframe %s not supported by yahoo", tf)
	}
}

// FetchKlines implements adapters.KlineSource. Rows where any OHLCV
// component is null are rejected; the adjusted close is preferred when
// present.
func (a *Adapter) FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int, start time.Time) ([]domain.Kline, error) {
	interval, err := intervalFor(tf)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errs.InvalidParameter("limit must be positive, got %d", limit)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.Name()); err != nil {
			return nil, errs.Network(err, "rate limit wait for %s", symbol)
		}
	}

	yahooSymbol := domain.ToYahooSymbol(symbol)
	end := time.Now().UTC()
	if start.IsZero() {
		// Pad the window so weekends and holidays still yield limit bars.
		start = end.Add(-time.Duration(limit*2) * tf.Duration())
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d",
		a.baseURL, yahooSymbol, interval, start.Unix(), end.Unix())

	began := time.Now()
	raw, err := a.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	metrics.FetchLatency.WithLabelValues(a.Name()).Observe(time.Since(began).Seconds())
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(a.Name()).Inc()
		return nil, errs.Network(err, "yahoo chart for %s", yahooSymbol)
	}

	var parsed chartResponse
	if err := json.Unmarshal(raw.([]byte), &parsed); err != nil {
		return nil, errs.Parse(err, "yahoo chart body for %s", yahooSymbol)
	}
	if parsed.Chart.Error != nil {
		return nil, errs.Network(nil, "yahoo error %s: %s",
			parsed.Chart.Error.Code, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errs.Parse(nil, "yahoo chart for %s: empty result", yahooSymbol)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	klines := make([]domain.Kline, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) ||
			i >= len(quote.Close) || i >= len(quote.Volume) {
			break
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil ||
			quote.Close[i] == nil || quote.Volume[i] == nil {
			continue
		}

		closeVal := *quote.Close[i]
		if adjClose != nil && i < len(adjClose) && adjClose[i] != nil {
			closeVal = *adjClose[i]
		}

		openTime := domain.AlignToTimeframe(time.Unix(ts, 0).UTC(), tf)
		k := domain.Kline{
			Symbol:    yahooSymbol,
			Timeframe: tf,
			OpenTime:  openTime,
			CloseTime: openTime.Add(tf.Duration()),
			Open:      decFromFloat(*quote.Open[i]),
			High:      decFromFloat(*quote.High[i]),
			Low:       decFromFloat(*quote.Low[i]),
			Close:     decFromFloat(closeVal),
			Volume:    decFromFloat(*quote.Volume[i]),
		}
		// The adjusted close can escape the raw high/low band; widen so
		// the bar invariant holds.
		k.High = decimal.Max(k.High, k.Open, k.Close)
		k.Low = decimal.Min(k.Low, k.Open, k.Close)
		klines = append(klines, k)
	}

	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// decFromFloat converts through the string form so the binary float
// never participates in Decimal arithmetic.
func decFromFloat(f float64) decimal.Decimal {
	d, err := decimal.NewFromString(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return decimal.Zero
	}
	return d.RoundBank(domain.PriceScale)
}

// quoteSummaryResponse carries the fundamental fields we keep.
type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			SummaryDetail struct {
				MarketCap        rawValue `json:"marketCap"`
				TrailingPE       rawValue `json:"trailingPE"`
				DividendYield    rawValue `json:"dividendYield"`
				FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  rawValue `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
			DefaultKeyStatistics struct {
				PriceToBook rawValue `json:"priceToBook"`
				TrailingEps rawValue `json:"trailingEps"`
				BookValue   rawValue `json:"bookValue"`
			} `json:"defaultKeyStatistics"`
			FinancialData struct {
				ReturnOnEquity rawValue `json:"returnOnEquity"`
				ReturnOnAssets rawValue `json:"returnOnAssets"`
				RevenueGrowth  rawValue `json:"revenueGrowth"`
				EarningsGrowth rawValue `json:"earningsGrowth"`
			} `json:"financialData"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) decimal() *decimal.Decimal {
	if v.Raw == nil {
		return nil
	}
	d := decFromFloat(*v.Raw)
	return &d
}

// FetchFundamental implements adapters.FundamentalSource.
func (a *Adapter) FetchFundamental(ctx context.Context, symbol string) (domain.FundamentalSnapshot, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.Name()); err != nil {
			return domain.FundamentalSnapshot{}, errs.Network(err, "rate limit wait for %s", symbol)
		}
	}

	yahooSymbol := domain.ToYahooSymbol(symbol)
	url := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=summaryDetail,defaultKeyStatistics,financialData",
		a.baseURL, yahooSymbol)

	raw, err := a.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(a.Name()).Inc()
		return domain.FundamentalSnapshot{}, errs.Network(err, "yahoo quote summary for %s", yahooSymbol)
	}

	var parsed quoteSummaryResponse
	if err := json.Unmarshal(raw.([]byte), &parsed); err != nil {
		return domain.FundamentalSnapshot{}, errs.Parse(err, "yahoo quote summary body for %s", yahooSymbol)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return domain.FundamentalSnapshot{}, errs.Parse(nil, "yahoo quote summary for %s: empty result", yahooSymbol)
	}

	r := parsed.QuoteSummary.Result[0]
	snap := domain.FundamentalSnapshot{
		Ticker:         symbol,
		MarketCap:      r.SummaryDetail.MarketCap.decimal(),
		PER:            r.SummaryDetail.TrailingPE.decimal(),
		PBR:            r.DefaultKeyStatistics.PriceToBook.decimal(),
		ROE:            r.FinancialData.ReturnOnEquity.decimal(),
		ROA:            r.FinancialData.ReturnOnAssets.decimal(),
		EPS:            r.DefaultKeyStatistics.TrailingEps.decimal(),
		BPS:            r.DefaultKeyStatistics.BookValue.decimal(),
		DividendYield:  r.SummaryDetail.DividendYield.decimal(),
		Week52High:     r.SummaryDetail.FiftyTwoWeekHigh.decimal(),
		Week52Low:      r.SummaryDetail.FiftyTwoWeekLow.decimal(),
		RevenueGrowth:  r.FinancialData.RevenueGrowth.decimal(),
		EarningsGrowth: r.FinancialData.EarningsGrowth.decimal(),
		FetchedAt:      time.Now().UTC(),
	}
	snap.Round()
	return snap, nil
}

// FetchKlinesWithFundamental implements adapters.CombinedSource with one
// year of daily bars plus the fundamental snapshot.
func (a *Adapter) FetchKlinesWithFundamental(ctx context.Context, symbol string) ([]domain.Kline, domain.FundamentalSnapshot, error) {
	klines, err := a.FetchKlines(ctx, symbol, domain.D1, 260, time.Time{})
	if err != nil {
		return nil, domain.FundamentalSnapshot{}, err
	}
	snap, err := a.FetchFundamental(ctx, symbol)
	if err != nil {
		return nil, domain.FundamentalSnapshot{}, err
	}
	return klines, snap, nil
}
