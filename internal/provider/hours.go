package provider

import (
	"strings"
	"time"

	"github.com/tyeom/zeroquant/internal/domain"
)

var (
	seoulLoc   = mustLoad("Asia/Seoul", 9*3600, "KST")
	tokyoLoc   = mustLoad("Asia/Tokyo", 9*3600, "JST")
	newYorkLoc = mustLoad("America/New_York", -5*3600, "EST")
)

func mustLoad(name string, fallbackOffset int, fallbackName string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(fallbackName, fallbackOffset)
	}
	return loc
}

// postCloseWindow keeps updates meaningful for an hour after the bell.
const postCloseWindow = time.Hour

// IsMarketActive reports whether fetching fresh intraday data for symbol
// can produce anything new at the given instant. Daily and coarser
// timeframes always update. Holidays are not modelled: a false positive
// only triggers a fetch that re-upserts the last candle.
func IsMarketActive(symbol string, tf domain.Timeframe, at time.Time) bool {
	if !tf.IsIntraday() {
		return true
	}

	switch {
	case strings.HasSuffix(symbol, ".KS"), strings.HasSuffix(symbol, ".KQ"),
		domain.IsPureKoreanCode(symbol):
		return withinSession(at.In(seoulLoc), 9*time.Hour, 15*time.Hour+30*time.Minute)
	case strings.HasSuffix(symbol, ".T"):
		return withinSession(at.In(tokyoLoc), 9*time.Hour, 15*time.Hour)
	default:
		return withinSession(at.In(newYorkLoc), 9*time.Hour+30*time.Minute, 16*time.Hour)
	}
}

// withinSession checks Mon-Fri between open and close plus the
// post-close window, in the exchange's local time.
func withinSession(local time.Time, open, close time.Duration) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return sinceMidnight >= open && sinceMidnight <= close+postCloseWindow
}
