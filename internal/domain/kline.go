package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// Kline is one OHLCV bar. It is immutable once its CloseTime has passed.
type Kline struct {
	Symbol     string          `json:"symbol"`
	Timeframe  Timeframe       `json:"timeframe"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	QuoteVol   *decimal.Decimal `json:"quote_volume,omitempty"`
	TradeCount *int64           `json:"trade_count,omitempty"`
}

// Validate checks the bar invariants: low bounds both open and close
// from below, high from above, volume is non-negative, and the span
// matches the timeframe (monthly bars tolerate calendar slack).
func (k Kline) Validate() error {
	if k.Low.GreaterThan(decimal.Min(k.Open, k.Close)) {
		return errs.InvalidParameter("kline %s low %s above min(open, close)", k.Symbol, k.Low)
	}
	if k.High.LessThan(decimal.Max(k.Open, k.Close)) {
		return errs.InvalidParameter("kline %s high %s below max(open, close)", k.Symbol, k.High)
	}
	if k.Volume.IsNegative() {
		return errs.InvalidParameter("kline %s negative volume %s", k.Symbol, k.Volume)
	}
	span := k.CloseTime.Sub(k.OpenTime)
	if k.Timeframe == MN1 {
		if span < 28*24*time.Hour || span > 31*24*time.Hour {
			return errs.InvalidParameter("kline %s monthly span %s outside 28..31 days", k.Symbol, span)
		}
		return nil
	}
	if k.Timeframe.Valid() && span != k.Timeframe.Duration() {
		return errs.InvalidParameter("kline %s span %s does not match timeframe %s", k.Symbol, span, k.Timeframe)
	}
	return nil
}

// IsBullish reports whether the bar closed above its open.
func (k Kline) IsBullish() bool {
	return k.Close.GreaterThan(k.Open)
}

// Closes extracts the close series of an ascending candle slice.
func Closes(klines []Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// Opens extracts the open series.
func Opens(klines []Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		out[i] = k.Open
	}
	return out
}

// Highs extracts the high series.
func Highs(klines []Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		out[i] = k.High
	}
	return out
}

// Lows extracts the low series.
func Lows(klines []Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		out[i] = k.Low
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(klines []Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}
