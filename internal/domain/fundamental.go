package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundamentalSnapshot is one point-in-time view of a symbol's
// fundamentals as returned by a data source. Absent fields stay nil.
type FundamentalSnapshot struct {
	Ticker        string           `json:"ticker"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	PER           *decimal.Decimal `json:"per,omitempty"`
	PBR           *decimal.Decimal `json:"pbr,omitempty"`
	ROE           *decimal.Decimal `json:"roe,omitempty"`
	ROA           *decimal.Decimal `json:"roa,omitempty"`
	EPS           *decimal.Decimal `json:"eps,omitempty"`
	BPS           *decimal.Decimal `json:"bps,omitempty"`
	DividendYield *decimal.Decimal `json:"dividend_yield,omitempty"`
	Week52High    *decimal.Decimal `json:"week52_high,omitempty"`
	Week52Low     *decimal.Decimal `json:"week52_low,omitempty"`
	RevenueGrowth *decimal.Decimal `json:"revenue_growth,omitempty"`
	EarningsGrowth *decimal.Decimal `json:"earnings_growth,omitempty"`
	FetchedAt     time.Time        `json:"fetched_at"`
}

// Round normalizes every populated field to its persisted scale.
func (f *FundamentalSnapshot) Round() {
	roundPtr := func(p *decimal.Decimal, scale int32) {
		if p != nil {
			*p = p.RoundBank(scale)
		}
	}
	roundPtr(f.MarketCap, NotionalScale)
	roundPtr(f.PER, PriceScale)
	roundPtr(f.PBR, PriceScale)
	roundPtr(f.ROE, PriceScale)
	roundPtr(f.ROA, PriceScale)
	roundPtr(f.EPS, PriceScale)
	roundPtr(f.BPS, PriceScale)
	roundPtr(f.DividendYield, PriceScale)
	roundPtr(f.Week52High, PriceScale)
	roundPtr(f.Week52Low, PriceScale)
	roundPtr(f.RevenueGrowth, PriceScale)
	roundPtr(f.EarningsGrowth, PriceScale)
}

// SymbolInfo is one row of the symbol universe.
type SymbolInfo struct {
	ID          int64   `json:"id" db:"id"`
	Ticker      string  `json:"ticker" db:"ticker"`
	DisplayName string  `json:"display_name" db:"display_name"`
	Market      string  `json:"market" db:"market"`
	Exchange    *string `json:"exchange,omitempty" db:"exchange"`
	Sector      *string `json:"sector,omitempty" db:"sector"`
	YahooSymbol *string `json:"yahoo_symbol,omitempty" db:"yahoo_symbol"`
	IsActive    bool    `json:"is_active" db:"is_active"`
}
