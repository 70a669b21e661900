package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validKline() Kline {
	open := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return Kline{
		Symbol:    "AAPL",
		Timeframe: D1,
		OpenTime:  open,
		CloseTime: open.Add(24 * time.Hour),
		Open:      dec("100"),
		High:      dec("105"),
		Low:       dec("99"),
		Close:     dec("104"),
		Volume:    dec("100000"),
	}
}

func TestKlineValidate(t *testing.T) {
	if err := validKline().Validate(); err != nil {
		t.Fatalf("valid kline rejected: %v", err)
	}

	k := validKline()
	k.Low = dec("101") // above open
	if err := k.Validate(); err == nil {
		t.Error("low above min(open, close) accepted")
	}

	k = validKline()
	k.High = dec("103") // below close
	if err := k.Validate(); err == nil {
		t.Error("high below max(open, close) accepted")
	}

	k = validKline()
	k.Volume = dec("-1")
	if err := k.Validate(); err == nil {
		t.Error("negative volume accepted")
	}

	k = validKline()
	k.CloseTime = k.OpenTime.Add(12 * time.Hour)
	if err := k.Validate(); err == nil {
		t.Error("mismatched span accepted")
	}
}

func TestKlineValidateMonthlySlack(t *testing.T) {
	open := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	k := validKline()
	k.Timeframe = MN1
	k.OpenTime = open
	k.CloseTime = open.AddDate(0, 1, 0) // 29 days in Feb 2024
	if err := k.Validate(); err != nil {
		t.Errorf("calendar-month span rejected: %v", err)
	}
}

func TestAlignToTimeframe(t *testing.T) {
	at := time.Date(2024, 3, 13, 14, 37, 22, 0, time.UTC)

	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{M5, time.Date(2024, 3, 13, 14, 35, 0, 0, time.UTC)},
		{H1, time.Date(2024, 3, 13, 14, 0, 0, 0, time.UTC)},
		{D1, time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)},
		{W1, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)}, // Monday
		{MN1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := AlignToTimeframe(at, tt.tf); !got.Equal(tt.want) {
			t.Errorf("AlignToTimeframe(%s) = %s, want %s", tt.tf, got, tt.want)
		}
	}
}

func TestTimeframeDurations(t *testing.T) {
	if D1.Duration() != 24*time.Hour {
		t.Error("D1 duration wrong")
	}
	if !M5.IsIntraday() || D1.IsIntraday() {
		t.Error("intraday classification wrong")
	}
	if _, err := ParseTimeframe("2d"); err == nil {
		t.Error("unknown timeframe accepted")
	}
	tf, err := ParseTimeframe("1M")
	if err != nil || tf != MN1 {
		t.Errorf("ParseTimeframe(1M) = %v, %v", tf, err)
	}
}

func TestKlineJSONRoundTrip(t *testing.T) {
	k := validKline()
	qv := dec("12345.67")
	tc := int64(321)
	k.QuoteVol = &qv
	k.TradeCount = &tc

	raw, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Kline
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !back.Open.Equal(k.Open) || !back.High.Equal(k.High) ||
		!back.Low.Equal(k.Low) || !back.Close.Equal(k.Close) ||
		!back.Volume.Equal(k.Volume) {
		t.Errorf("ohlcv changed across the wire: %+v vs %+v", back, k)
	}
	if !back.OpenTime.Equal(k.OpenTime) || !back.CloseTime.Equal(k.CloseTime) {
		t.Error("timestamps changed across the wire")
	}
	if back.QuoteVol == nil || !back.QuoteVol.Equal(qv) {
		t.Error("quote volume changed across the wire")
	}
	if back.TradeCount == nil || *back.TradeCount != tc {
		t.Error("trade count changed across the wire")
	}
}

func TestOrderStatusMachine(t *testing.T) {
	if !OrderPending.CanTransitionTo(OrderOpen) {
		t.Error("pending -> open should be allowed")
	}
	if OrderFilled.CanTransitionTo(OrderOpen) {
		t.Error("filled is terminal")
	}
	for _, s := range []OrderStatus{OrderFilled, OrderCancelled, OrderRejected, OrderExpired} {
		if !s.IsFinal() {
			t.Errorf("%s should be final", s)
		}
	}
	if OrderOpen.IsFinal() || OrderPartiallyFilled.IsFinal() {
		t.Error("open states must not be final")
	}
}
