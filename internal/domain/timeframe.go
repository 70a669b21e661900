package domain

import (
	"time"

	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// Timeframe is the duration one candle spans, in its canonical wire
// encoding ("1m" ... "1M").
type Timeframe string

const (
	M1  Timeframe = "1m"
	M3  Timeframe = "3m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	M30 Timeframe = "30m"
	H1  Timeframe = "1h"
	H2  Timeframe = "2h"
	H4  Timeframe = "4h"
	H6  Timeframe = "6h"
	H8  Timeframe = "8h"
	H12 Timeframe = "12h"
	D1  Timeframe = "1d"
	D3  Timeframe = "3d"
	W1  Timeframe = "1w"
	MN1 Timeframe = "1M"
)

// timeframeDurations drives all pacing arithmetic. MN1 is treated as 30
// days for pacing only; calendar-month slack is tolerated at validation.
var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M3:  3 * time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H2:  2 * time.Hour,
	H4:  4 * time.Hour,
	H6:  6 * time.Hour,
	H8:  8 * time.Hour,
	H12: 12 * time.Hour,
	D1:  24 * time.Hour,
	D3:  72 * time.Hour,
	W1:  7 * 24 * time.Hour,
	MN1: 30 * 24 * time.Hour,
}

// ParseTimeframe validates a wire encoding.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", errs.InvalidParameter("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the canonical duration of one candle.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// IsIntraday reports whether the timeframe is finer than one day.
func (tf Timeframe) IsIntraday() bool {
	return tf.Duration() < 24*time.Hour
}

// Valid reports whether the timeframe is one of the known encodings.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

func (tf Timeframe) String() string { return string(tf) }

// AlignToTimeframe floors an instant to the open_time of its containing
// candle. Weekly candles open on Monday 00:00 UTC; monthly candles on
// the first of the month.
func AlignToTimeframe(t time.Time, tf Timeframe) time.Time {
	t = t.UTC()
	switch tf {
	case W1:
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case MN1:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(tf.Duration())
	}
}
