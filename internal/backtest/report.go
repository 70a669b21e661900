package backtest

import (
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
)

// profitFactorSentinel stands in when a run has no losing trades.
var profitFactorSentinel = decimal.NewFromInt(999999)

// tradingDaysPerYear annualizes daily return statistics.
const tradingDaysPerYear = 252

// Report is the outcome of one backtest run. Identical inputs yield
// identical reports except for the run id and the trade ids.
type Report struct {
	ID          uuid.UUID       `json:"id"`
	StrategyID  string          `json:"strategy_id"`
	Config      Config          `json:"config"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	EquityCurve []EquityPoint   `json:"equity_curve,omitempty"`
	Trades      []domain.Trade  `json:"trades,omitempty"`
	FinalEquity decimal.Decimal `json:"final_equity"`
	Metrics     Metrics         `json:"metrics"`
}

// Metrics summarizes a run. Ratio statistics (Sharpe, Sortino, Calmar,
// CAGR) are computed in float64 and re-enter Decimal for the persisted
// report.
type Metrics struct {
	TotalReturnPct      decimal.Decimal `json:"total_return_pct"`
	AnnualizedReturnPct decimal.Decimal `json:"annualized_return_pct"`
	NetProfit           decimal.Decimal `json:"net_profit"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	LosingTrades        int             `json:"losing_trades"`
	WinRatePct          decimal.Decimal `json:"win_rate_pct"`
	ProfitFactor        decimal.Decimal `json:"profit_factor"`
	Sharpe              decimal.Decimal `json:"sharpe"`
	Sortino             decimal.Decimal `json:"sortino"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
	Calmar              decimal.Decimal `json:"calmar"`
	AvgWin              decimal.Decimal `json:"avg_win"`
	AvgLoss             decimal.Decimal `json:"avg_loss"`
	LargestWin          decimal.Decimal `json:"largest_win"`
	LargestLoss         decimal.Decimal `json:"largest_loss"`
}

func computeMetrics(initial decimal.Decimal, equity []EquityPoint, trades []domain.Trade) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(equity) == 0 || initial.Sign() <= 0 {
		return m
	}

	final := equity[len(equity)-1].Equity
	m.NetProfit = final.Sub(initial)
	m.TotalReturnPct = final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100)).RoundBank(domain.PriceScale)

	// CAGR over the wall time of the series.
	wallDays := equity[len(equity)-1].Time.Sub(equity[0].Time).Hours() / 24
	if wallDays >= 1 {
		growth := final.Div(initial).InexactFloat64()
		if growth > 0 {
			cagr := math.Pow(growth, 365/wallDays) - 1
			m.AnnualizedReturnPct = decFromFloat(cagr * 100)
		}
	}

	// Max drawdown from the curve.
	maxDD := decimal.Zero
	for _, p := range equity {
		maxDD = decimal.Max(maxDD, p.DrawdownPct)
	}
	m.MaxDrawdownPct = maxDD.RoundBank(domain.PriceScale)

	// Daily-return statistics over risk-free zero.
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev.Sign() <= 0 {
			continue
		}
		returns = append(returns, equity[i].Equity.Sub(prev).Div(prev).InexactFloat64())
	}
	if len(returns) > 1 {
		mean, sd := meanStd(returns)
		if sd > 0 {
			m.Sharpe = decFromFloat(mean / sd * math.Sqrt(tradingDaysPerYear))
		}
		downside := downsideDeviation(returns)
		if downside > 0 {
			m.Sortino = decFromFloat(mean / downside * math.Sqrt(tradingDaysPerYear))
		}
	}

	if maxDD.Sign() > 0 {
		m.Calmar = m.AnnualizedReturnPct.Div(maxDD).RoundBank(domain.PriceScale)
	}

	// Trade statistics.
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, tr := range trades {
		switch tr.PnL.Sign() {
		case 1:
			m.WinningTrades++
			grossProfit = grossProfit.Add(tr.PnL)
			m.LargestWin = decimal.Max(m.LargestWin, tr.PnL)
		case -1:
			m.LosingTrades++
			loss := tr.PnL.Abs()
			grossLoss = grossLoss.Add(loss)
			m.LargestLoss = decimal.Max(m.LargestLoss, loss)
		}
	}
	if m.TotalTrades > 0 {
		m.WinRatePct = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).
			Mul(decimal.NewFromInt(100)).RoundBank(domain.PriceScale)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades))).RoundBank(domain.PriceScale)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades))).RoundBank(domain.PriceScale)
	}
	switch {
	case grossLoss.Sign() > 0:
		m.ProfitFactor = grossProfit.Div(grossLoss).RoundBank(domain.PriceScale)
	case grossProfit.Sign() > 0:
		m.ProfitFactor = profitFactorSentinel
	}

	return m
}

func meanStd(values []float64) (mean, sd float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		sd += (v - mean) * (v - mean)
	}
	sd = math.Sqrt(sd / float64(len(values)))
	return mean, sd
}

// downsideDeviation measures dispersion of negative returns only,
// against a zero target.
func downsideDeviation(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			sum += v * v
		}
	}
	return math.Sqrt(sum / float64(len(values)))
}

// decFromFloat re-enters Decimal through the string form at the
// persisted scale.
func decFromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return decimal.Zero
	}
	return d.RoundBank(domain.PriceScale)
}
