package provider

import (
	"testing"
	"time"

	"github.com/tyeom/zeroquant/internal/domain"
)

func kst(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, seoulLoc)
}

func TestKoreanMarketHours(t *testing.T) {
	// Tuesday 2024-03-12 10:00 KST: open.
	if !IsMarketActive("005930.KS", domain.M5, kst(2024, 3, 12, 10, 0)) {
		t.Error("Tuesday 10:00 KST should be active")
	}
	// Saturday 2024-03-16 10:00 KST: closed.
	if IsMarketActive("005930.KS", domain.M5, kst(2024, 3, 16, 10, 0)) {
		t.Error("Saturday 10:00 KST should be inactive")
	}
	// Post-close window: 16:00 KST is within one hour of the 15:30 bell.
	if !IsMarketActive("005930", domain.M5, kst(2024, 3, 12, 16, 0)) {
		t.Error("post-close window should be active")
	}
	// 17:00 KST is past the window.
	if IsMarketActive("005930", domain.M5, kst(2024, 3, 12, 17, 0)) {
		t.Error("17:00 KST should be inactive")
	}
	// Pre-open.
	if IsMarketActive("005930", domain.M5, kst(2024, 3, 12, 8, 30)) {
		t.Error("08:30 KST should be inactive")
	}
}

func TestDailyTimeframeAlwaysActive(t *testing.T) {
	// Daily updates ignore market hours entirely.
	if !IsMarketActive("005930.KS", domain.D1, kst(2024, 3, 16, 3, 0)) {
		t.Error("daily timeframe should always be active")
	}
}

func TestJapaneseMarketHours(t *testing.T) {
	tokyoNoon := time.Date(2024, 3, 12, 12, 0, 0, 0, tokyoLoc)
	if !IsMarketActive("7203.T", domain.M15, tokyoNoon) {
		t.Error("Tuesday noon JST should be active")
	}
	lateEvening := time.Date(2024, 3, 12, 20, 0, 0, 0, tokyoLoc)
	if IsMarketActive("7203.T", domain.M15, lateEvening) {
		t.Error("20:00 JST should be inactive")
	}
}

func TestUSMarketHoursDST(t *testing.T) {
	// July: EDT in effect. 10:00 New York local.
	summer := time.Date(2024, 7, 9, 10, 0, 0, 0, newYorkLoc)
	if !IsMarketActive("AAPL", domain.M5, summer) {
		t.Error("Tuesday 10:00 ET (summer) should be active")
	}
	// January: EST. Same local clock reading stays active.
	winter := time.Date(2024, 1, 9, 10, 0, 0, 0, newYorkLoc)
	if !IsMarketActive("AAPL", domain.M5, winter) {
		t.Error("Tuesday 10:00 ET (winter) should be active")
	}
	// 09:00 ET is before the 09:30 open.
	early := time.Date(2024, 7, 9, 9, 0, 0, 0, newYorkLoc)
	if IsMarketActive("AAPL", domain.M5, early) {
		t.Error("09:00 ET should be inactive")
	}
}
