package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
)

// SectorRSInput is one ticker's contribution to the sector ranking.
type SectorRSInput struct {
	Ticker string
	Sector string
	Klines []domain.Kline
}

// SectorRSResult is one sector's relative-strength ranking entry.
type SectorRSResult struct {
	Sector           string          `json:"sector"`
	SymbolCount      int             `json:"symbol_count"`
	AvgReturnPct     decimal.Decimal `json:"avg_return_pct"`
	AvgReturn5DPct   decimal.Decimal `json:"avg_return_5d_pct"`
	MarketReturn     decimal.Decimal `json:"market_return"`
	RelativeStrength decimal.Decimal `json:"relative_strength"`
	CompositeScore   decimal.Decimal `json:"composite_score"`
	Rank             int             `json:"rank"`
}

// nearZeroMarketReturn bounds where RS division becomes meaningless.
// Below it the classifier falls back to a sign heuristic (1.5 for
// positive sector return, 0.5 negative, 1.0 flat) — a documented
// convention, not a principled default.
var nearZeroMarketReturn = decimal.NewFromFloat(0.0001)

// SectorRSCalculator ranks sectors by market-relative strength.
// Composite score = RS*100*0.6 + return*10*0.4.
type SectorRSCalculator struct {
	rsWeight     decimal.Decimal
	returnWeight decimal.Decimal
}

// NewSectorRSCalculator builds a calculator with the 0.6/0.4 weights.
func NewSectorRSCalculator() *SectorRSCalculator {
	return &SectorRSCalculator{
		rsWeight:     decimal.NewFromFloat(0.6),
		returnWeight: decimal.NewFromFloat(0.4),
	}
}

// Calculate computes each ticker's lookback return, groups by sector,
// and ranks descending by composite score. Tickers with insufficient
// history are skipped.
func (c *SectorRSCalculator) Calculate(inputs []SectorRSInput, lookbackDays int) []SectorRSResult {
	if len(inputs) == 0 || lookbackDays <= 0 {
		return nil
	}

	type tickerReturn struct {
		sector   string
		ret      decimal.Decimal
		ret5d    decimal.Decimal
	}
	returns := make([]tickerReturn, 0, len(inputs))
	for _, input := range inputs {
		ret, ok := lookbackReturn(input.Klines, lookbackDays)
		if !ok {
			continue
		}
		ret5d, _ := lookbackReturn(input.Klines, 5)
		returns = append(returns, tickerReturn{sector: input.Sector, ret: ret, ret5d: ret5d})
	}
	if len(returns) == 0 {
		return nil
	}

	marketReturn := decimal.Zero
	for _, r := range returns {
		marketReturn = marketReturn.Add(r.ret)
	}
	marketReturn = marketReturn.Div(decimal.NewFromInt(int64(len(returns))))

	type sectorAgg struct {
		returns  []decimal.Decimal
		returns5 []decimal.Decimal
	}
	sectors := make(map[string]*sectorAgg)
	for _, r := range returns {
		agg := sectors[r.sector]
		if agg == nil {
			agg = &sectorAgg{}
			sectors[r.sector] = agg
		}
		agg.returns = append(agg.returns, r.ret)
		agg.returns5 = append(agg.returns5, r.ret5d)
	}

	hundred := decimal.NewFromInt(100)
	ten := decimal.NewFromInt(10)
	results := make([]SectorRSResult, 0, len(sectors))
	for sector, agg := range sectors {
		count := decimal.NewFromInt(int64(len(agg.returns)))
		avgReturn := domain.DecSum(agg.returns).Div(count)
		avgReturn5 := domain.DecSum(agg.returns5).Div(count)

		var rs decimal.Decimal
		if marketReturn.Abs().GreaterThan(nearZeroMarketReturn) {
			rs = avgReturn.Div(marketReturn)
		} else {
			switch avgReturn.Sign() {
			case 1:
				rs = decimal.NewFromFloat(1.5)
			case -1:
				rs = decimal.NewFromFloat(0.5)
			default:
				rs = decimal.NewFromInt(1)
			}
		}

		composite := rs.Mul(hundred).Mul(c.rsWeight).
			Add(avgReturn.Mul(ten).Mul(c.returnWeight))

		results = append(results, SectorRSResult{
			Sector:           sector,
			SymbolCount:      len(agg.returns),
			AvgReturnPct:     avgReturn.RoundBank(domain.PriceScale),
			AvgReturn5DPct:   avgReturn5.RoundBank(domain.PriceScale),
			MarketReturn:     marketReturn.RoundBank(domain.PriceScale),
			RelativeStrength: rs.RoundBank(domain.PriceScale),
			CompositeScore:   composite.RoundBank(domain.PriceScale),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].CompositeScore.Equal(results[j].CompositeScore) {
			return results[i].CompositeScore.GreaterThan(results[j].CompositeScore)
		}
		return results[i].Sector < results[j].Sector
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// lookbackReturn computes the percentage return over the last lookback
// candles.
func lookbackReturn(klines []domain.Kline, lookback int) (decimal.Decimal, bool) {
	if len(klines) < lookback+1 {
		return decimal.Zero, false
	}
	past := klines[len(klines)-1-lookback].Close
	current := klines[len(klines)-1].Close
	if past.Sign() <= 0 {
		return decimal.Zero, false
	}
	return current.Sub(past).Div(past).Mul(decimal.NewFromInt(100)), true
}
