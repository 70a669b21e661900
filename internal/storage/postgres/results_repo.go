package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// ResultsRepo stores write-once records of strategy runs and prediction
// audits. Rows are soft-deleted, never removed.
type ResultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// BacktestResultRecord is one persisted backtest run.
type BacktestResultRecord struct {
	ID          uuid.UUID       `db:"id"`
	StrategyID  string          `db:"strategy_id"`
	Symbol      string          `db:"symbol"`
	Timeframe   string          `db:"timeframe"`
	ConfigJSON  json.RawMessage `db:"config"`
	MetricsJSON json.RawMessage `db:"metrics"`
	Success     bool            `db:"success"`
	Error       *string         `db:"error"`
	CreatedAt   time.Time       `db:"created_at"`
	DeletedAt   *time.Time      `db:"deleted_at"`
}

// SaveBacktestResult persists one run.
func (r *ResultsRepo) SaveBacktestResult(ctx context.Context, rec BacktestResultRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backtest_results (id, strategy_id, symbol, timeframe, config, metrics, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		rec.ID, rec.StrategyID, rec.Symbol, rec.Timeframe,
		rec.ConfigJSON, rec.MetricsJSON, rec.Success, rec.Error)
	if err != nil {
		return errs.Storage(err, "save backtest result %s", rec.ID)
	}
	return nil
}

// SoftDeleteBacktestResult marks a run deleted without removing it.
func (r *ResultsRepo) SoftDeleteBacktestResult(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backtest_results SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.Storage(err, "soft delete backtest result %s", id)
	}
	return nil
}

// SaveSignalMarker stores a signal with the indicator snapshot that
// produced it, for post-hoc analysis.
func (r *ResultsRepo) SaveSignalMarker(ctx context.Context, sig domain.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var snapshot json.RawMessage
	if sig.Indicators != nil {
		raw, err := json.Marshal(sig.Indicators)
		if err != nil {
			return errs.Parse(err, "marshal indicator snapshot for %s", sig.ID)
		}
		snapshot = raw
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signal_marker (id, strategy_id, symbol, side, signal_type, strength, suggested_price, indicators, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sig.ID, sig.StrategyID, sig.Symbol.String(), string(sig.Side),
		string(sig.Type), sig.Strength, sig.SuggestedPrice, snapshot,
		sig.Timestamp.UTC())
	if err != nil {
		return errs.Storage(err, "save signal marker %s", sig.ID)
	}
	return nil
}

// RealityCheckSnapshot is one write-once prediction audit row.
type RealityCheckSnapshot struct {
	ID           uuid.UUID       `db:"id"`
	Ticker       string          `db:"ticker"`
	PredictedAt  time.Time       `db:"predicted_at"`
	Prediction   json.RawMessage `db:"prediction"`
	RealizedAt   *time.Time      `db:"realized_at"`
	Realized     json.RawMessage `db:"realized"`
	DeletedAt    *time.Time      `db:"deleted_at"`
}

// SaveRealityCheck writes one prediction audit snapshot.
func (r *ResultsRepo) SaveRealityCheck(ctx context.Context, snap RealityCheckSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reality_check_snapshot (id, ticker, predicted_at, prediction, realized_at, realized)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.Ticker, snap.PredictedAt.UTC(), snap.Prediction,
		snap.RealizedAt, snap.Realized)
	if err != nil {
		return errs.Storage(err, "save reality check %s", snap.ID)
	}
	return nil
}
