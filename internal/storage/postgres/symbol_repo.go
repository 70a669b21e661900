package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// SymbolRepo maintains the symbol universe and per-symbol fundamentals.
type SymbolRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// UpsertSymbol creates or refreshes a symbol_info row. Symbols are
// created lazily on first ingestion and soft-deleted via is_active.
func (r *SymbolRepo) UpsertSymbol(ctx context.Context, info domain.SymbolInfo) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO symbol_info (ticker, display_name, market, exchange, sector, yahoo_symbol, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, market) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			exchange = COALESCE(EXCLUDED.exchange, symbol_info.exchange),
			sector = COALESCE(EXCLUDED.sector, symbol_info.sector),
			yahoo_symbol = COALESCE(EXCLUDED.yahoo_symbol, symbol_info.yahoo_symbol),
			is_active = EXCLUDED.is_active`,
		info.Ticker, info.DisplayName, info.Market, info.Exchange, info.Sector,
		info.YahooSymbol, info.IsActive)
	if err != nil {
		return errs.Storage(err, "upsert symbol %s", info.Ticker)
	}
	return nil
}

// Deactivate soft-deletes symbols absent from the latest universe sweep.
func (r *SymbolRepo) Deactivate(ctx context.Context, market string, activeTickers []string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := sqlx.In(`
		UPDATE symbol_info SET is_active = false
		WHERE market = ? AND is_active = true AND ticker NOT IN (?)`,
		market, activeTickers)
	if err != nil {
		return 0, errs.Storage(err, "build deactivate for %s", market)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, errs.Storage(err, "deactivate symbols in %s", market)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StaleFundamentalSymbol is one candidate row for the fundamental
// collector.
type StaleFundamentalSymbol struct {
	SymbolID    int64   `db:"id"`
	Ticker      string  `db:"ticker"`
	Market      string  `db:"market"`
	YahooSymbol *string `db:"yahoo_symbol"`
}

// StaleFundamentals selects active non-crypto symbols whose fundamental
// row is missing or older than threshold, ordered by ticker so batch
// checkpoints are stable. Symbols at or before afterTicker are skipped
// when resuming.
func (r *SymbolRepo) StaleFundamentals(ctx context.Context, threshold time.Time, limit int, afterTicker string) ([]StaleFundamentalSymbol, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []StaleFundamentalSymbol
	err := r.db.SelectContext(ctx, &rows, `
		SELECT si.id, si.ticker, si.market, si.yahoo_symbol
		FROM symbol_info si
		LEFT JOIN symbol_fundamental sf ON sf.symbol_id = si.id
		WHERE si.is_active = true
		  AND si.market <> 'CRYPTO'
		  AND (sf.fetched_at IS NULL OR sf.fetched_at < $1)
		  AND si.ticker > $2
		ORDER BY si.ticker
		LIMIT $3`,
		threshold.UTC(), afterTicker, limit)
	if err != nil {
		return nil, errs.Storage(err, "stale fundamentals")
	}
	return rows, nil
}

// StaleIndicators selects symbols whose analysis fields are missing or
// stale, in stable ticker order.
func (r *SymbolRepo) StaleIndicators(ctx context.Context, threshold time.Time, limit int, afterTicker string) ([]StaleFundamentalSymbol, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []StaleFundamentalSymbol
	err := r.db.SelectContext(ctx, &rows, `
		SELECT si.id, si.ticker, si.market, si.yahoo_symbol
		FROM symbol_info si
		LEFT JOIN symbol_fundamental sf ON sf.symbol_id = si.id
		WHERE si.is_active = true
		  AND si.market <> 'CRYPTO'
		  AND (sf.route_state IS NULL OR sf.updated_at IS NULL OR sf.updated_at < $1)
		  AND si.ticker > $2
		ORDER BY si.ticker
		LIMIT $3`,
		threshold.UTC(), afterTicker, limit)
	if err != nil {
		return nil, errs.Storage(err, "stale indicators")
	}
	return rows, nil
}

// UpsertFundamental writes one fundamental snapshot. Values are rounded
// to their persisted scales by the caller.
func (r *SymbolRepo) UpsertFundamental(ctx context.Context, symbolID int64, f domain.FundamentalSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO symbol_fundamental
			(symbol_id, market_cap, per, pbr, roe, roa, eps, bps, dividend_yield,
			 week52_high, week52_low, revenue_growth, earnings_growth, fetched_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (symbol_id) DO UPDATE SET
			market_cap = EXCLUDED.market_cap,
			per = EXCLUDED.per,
			pbr = EXCLUDED.pbr,
			roe = EXCLUDED.roe,
			roa = EXCLUDED.roa,
			eps = EXCLUDED.eps,
			bps = EXCLUDED.bps,
			dividend_yield = EXCLUDED.dividend_yield,
			week52_high = EXCLUDED.week52_high,
			week52_low = EXCLUDED.week52_low,
			revenue_growth = EXCLUDED.revenue_growth,
			earnings_growth = EXCLUDED.earnings_growth,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = NOW()`,
		symbolID, f.MarketCap, f.PER, f.PBR, f.ROE, f.ROA, f.EPS, f.BPS,
		f.DividendYield, f.Week52High, f.Week52Low, f.RevenueGrowth,
		f.EarningsGrowth, f.FetchedAt.UTC())
	if err != nil {
		return errs.Storage(err, "upsert fundamental for symbol %d", symbolID)
	}
	return nil
}

// UpdateAnalysis writes the computed analysis fields (route state,
// regime, TTM squeeze) for one symbol. Nil pointers are not skipped:
// they overwrite the stored value with NULL, matching "could not be
// computed this round".
func (r *SymbolRepo) UpdateAnalysis(ctx context.Context, symbolID int64, routeState, regime *string, ttmSqueeze *bool, ttmSqueezeCount *int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO symbol_fundamental (symbol_id, route_state, regime, ttm_squeeze, ttm_squeeze_cnt, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (symbol_id) DO UPDATE SET
			route_state = EXCLUDED.route_state,
			regime = EXCLUDED.regime,
			ttm_squeeze = EXCLUDED.ttm_squeeze,
			ttm_squeeze_cnt = EXCLUDED.ttm_squeeze_cnt,
			updated_at = NOW()`,
		symbolID, routeState, regime, ttmSqueeze, ttmSqueezeCount)
	if err != nil {
		return errs.Storage(err, "update analysis for symbol %d", symbolID)
	}
	return nil
}

// ActiveSymbols lists active tickers for a market with their sectors,
// used by the sector RS surface.
func (r *SymbolRepo) ActiveSymbols(ctx context.Context, market string) ([]domain.SymbolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []domain.SymbolInfo
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, ticker, display_name, market, exchange, sector, yahoo_symbol, is_active
		FROM symbol_info WHERE market = $1 AND is_active = true
		ORDER BY ticker`, market)
	if err != nil {
		return nil, errs.Storage(err, "active symbols in %s", market)
	}
	return rows, nil
}

// FindByTicker resolves one symbol row; ok is false when absent.
func (r *SymbolRepo) FindByTicker(ctx context.Context, ticker string) (domain.SymbolInfo, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var info domain.SymbolInfo
	err := r.db.GetContext(ctx, &info, `
		SELECT id, ticker, display_name, market, exchange, sector, yahoo_symbol, is_active
		FROM symbol_info WHERE ticker = $1`, ticker)
	if err == sql.ErrNoRows {
		return domain.SymbolInfo{}, false, nil
	}
	if err != nil {
		return domain.SymbolInfo{}, false, errs.Storage(err, "find symbol %s", ticker)
	}
	return info, true, nil
}

// MarketCapOf reads a symbol's cached market cap when present.
func (r *SymbolRepo) MarketCapOf(ctx context.Context, symbolID int64) (decimal.Decimal, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cap decimal.NullDecimal
	err := r.db.GetContext(ctx, &cap, `
		SELECT market_cap FROM symbol_fundamental WHERE symbol_id = $1`, symbolID)
	if err == sql.ErrNoRows || (err == nil && !cap.Valid) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errs.Storage(err, "market cap for %d", symbolID)
	}
	return cap.Decimal, true, nil
}
