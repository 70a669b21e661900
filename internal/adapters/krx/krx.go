// Package krx fetches daily bars from the Korea Exchange's OTP-gated
// market data endpoint. Only 6-digit tickers and daily timeframes are
// served.
package krx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/adapters"
	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/metrics"
)

const (
	defaultOTPURL  = "http://data.krx.co.kr/comm/fileDn/GenerateOTP/generate.cmd"
	defaultDataURL = "http://data.krx.co.kr/comm/bldAttendant/getJsonData.cmd"
)

// Adapter is the KRX kline source.
type Adapter struct {
	client  *http.Client
	otpURL  string
	dataURL string
	limiter *adapters.SourceLimiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a KRX adapter.
func New(client *http.Client, limiter *adapters.SourceLimiter) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		client:  client,
		otpURL:  defaultOTPURL,
		dataURL: defaultDataURL,
		limiter: limiter,
		breaker: adapters.NewBreaker("krx"),
	}
}

// WithURLs overrides the endpoints, for tests.
func (a *Adapter) WithURLs(otpURL, dataURL string) *Adapter {
	a.otpURL = otpURL
	a.dataURL = dataURL
	return a
}

// Name implements adapters.KlineSource.
func (a *Adapter) Name() string { return "krx" }

type dailyResponse struct {
	Output []struct {
		Date   string `json:"TRD_DD"`
		Open   string `json:"TDD_OPNPRC"`
		High   string `json:"TDD_HGPRC"`
		Low    string `json:"TDD_LWPRC"`
		Close  string `json:"TDD_CLSPRC"`
		Volume string `json:"ACC_TRDVOL"`
	} `json:"output"`
}

// FetchKlines implements adapters.KlineSource. Non-daily timeframes are
// served as daily bars — KRX publishes daily data only.
func (a *Adapter) FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int, start time.Time) ([]domain.Kline, error) {
	if !domain.IsPureKoreanCode(symbol) {
		return nil, errs.InvalidParameter("krx requires a 6-digit ticker, got %q", symbol)
	}
	if limit <= 0 {
		return nil, errs.InvalidParameter("limit must be positive, got %d", limit)
	}
	if tf != domain.D1 {
		log.Warn().Str("symbol", symbol).Str("timeframe", tf.String()).
			Msg("krx serves daily bars only, substituting 1d")
		tf = domain.D1
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.Name()); err != nil {
			return nil, errs.Network(err, "rate limit wait for %s", symbol)
		}
	}

	end := time.Now().UTC()
	if start.IsZero() {
		// Pad for weekends and holidays.
		start = end.AddDate(0, 0, -(limit + 30))
	}

	began := time.Now()
	raw, err := a.breaker.Execute(func() (any, error) {
		otp, err := a.fetchOTP(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		return a.fetchData(ctx, otp, symbol, start, end)
	})
	metrics.FetchLatency.WithLabelValues(a.Name()).Observe(time.Since(began).Seconds())
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(a.Name()).Inc()
		return nil, errs.Network(err, "krx daily bars for %s", symbol)
	}

	var parsed dailyResponse
	if err := json.Unmarshal(raw.([]byte), &parsed); err != nil {
		return nil, errs.Parse(err, "krx body for %s", symbol)
	}

	klines := make([]domain.Kline, 0, len(parsed.Output))
	// KRX returns newest first; build ascending.
	for i := len(parsed.Output) - 1; i >= 0; i-- {
		row := parsed.Output[i]
		openTime, err := time.ParseInLocation("2006/01/02", row.Date, time.UTC)
		if err != nil {
			return nil, errs.Parse(err, "krx trade date %q", row.Date)
		}
		k := domain.Kline{
			Symbol:    symbol,
			Timeframe: domain.D1,
			OpenTime:  openTime,
			CloseTime: openTime.Add(24 * time.Hour),
			Open:      parseKRXNumber(row.Open),
			High:      parseKRXNumber(row.High),
			Low:       parseKRXNumber(row.Low),
			Close:     parseKRXNumber(row.Close),
			Volume:    parseKRXNumber(row.Volume),
		}
		klines = append(klines, k)
	}

	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

func (a *Adapter) fetchOTP(ctx context.Context, symbol string, start, end time.Time) (string, error) {
	form := url.Values{
		"locale":     {"ko_KR"},
		"isuCd":      {"KR7" + symbol + "003"},
		"strtDd":     {start.Format("20060102")},
		"endDd":      {end.Format("20060102")},
		"csvxls_isNo": {"false"},
		"name":       {"fileDown"},
		"url":        {"dbms/MDC/STAT/standard/MDCSTAT01701"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.otpURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("otp status %d", resp.StatusCode)
	}
	otp, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(otp), nil
}

func (a *Adapter) fetchData(ctx context.Context, otp, symbol string, start, end time.Time) ([]byte, error) {
	form := url.Values{
		"bld":    {"dbms/MDC/STAT/standard/MDCSTAT01701"},
		"isuCd":  {"KR7" + symbol + "003"},
		"strtDd": {start.Format("20060102")},
		"endDd":  {end.Format("20060102")},
		"code":   {otp},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.dataURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", "http://data.krx.co.kr/")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseKRXNumber strips the thousands separators KRX embeds in its
// numeric strings.
func parseKRXNumber(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
