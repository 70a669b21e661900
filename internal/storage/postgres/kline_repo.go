package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// upsertChunkSize bounds the number of candles per round trip.
const upsertChunkSize = 500

// KlineRepo persists OHLCV candles and keeps ohlcv_metadata in lockstep.
type KlineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

type klineRow struct {
	Symbol    string          `db:"symbol"`
	Timeframe string          `db:"timeframe"`
	OpenTime  time.Time       `db:"open_time"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
	CloseTime time.Time       `db:"close_time"`
	FetchedAt time.Time       `db:"fetched_at"`
}

func (r klineRow) toDomain() domain.Kline {
	return domain.Kline{
		Symbol:    r.Symbol,
		Timeframe: domain.Timeframe(r.Timeframe),
		OpenTime:  r.OpenTime.UTC(),
		CloseTime: r.CloseTime.UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// Metadata is the per-(symbol, timeframe) cache bookkeeping row. It is
// derived from ohlcv and may always be rebuilt from it.
type Metadata struct {
	Symbol          string     `db:"symbol"`
	Timeframe       string     `db:"timeframe"`
	FirstCachedTime *time.Time `db:"first_cached_time"`
	LastCachedTime  *time.Time `db:"last_cached_time"`
	TotalCandles    int64      `db:"total_candles"`
	LastUpdatedAt   time.Time  `db:"last_updated_at"`
}

// BulkUpsert deduplicates candles on (symbol, timeframe, open_time) and
// writes them in chunks. On conflict the stored high/low keep the
// extremes while close, volume and close_time take the new value. The
// metadata row is rebuilt in the same transaction.
func (r *KlineRepo) BulkUpsert(ctx context.Context, symbol string, tf domain.Timeframe, klines []domain.Kline) (int, error) {
	if len(klines) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Dedup on open_time, keeping the last occurrence.
	dedup := make(map[time.Time]domain.Kline, len(klines))
	order := make([]time.Time, 0, len(klines))
	for _, k := range klines {
		key := k.OpenTime.UTC()
		if _, seen := dedup[key]; !seen {
			order = append(order, key)
		}
		dedup[key] = k
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errs.Storage(err, "begin upsert for %s %s", symbol, tf)
	}
	defer tx.Rollback()

	total := 0
	for start := 0; start < len(order); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(order))
		chunk := order[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO ohlcv
			(symbol, timeframe, open_time, open, high, low, close, volume, close_time, fetched_at)
			VALUES `)
		args := make([]any, 0, len(chunk)*9)
		for i, key := range chunk {
			k := dedup[key]
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 9
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
			args = append(args, symbol, tf.String(), k.OpenTime.UTC(),
				k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime.UTC())
		}
		sb.WriteString(` ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
			high = GREATEST(ohlcv.high, EXCLUDED.high),
			low = LEAST(ohlcv.low, EXCLUDED.low),
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			close_time = EXCLUDED.close_time,
			fetched_at = NOW()`)

		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, errs.Storage(err, "upsert %d candles for %s %s", len(chunk), symbol, tf)
		}
		affected, _ := res.RowsAffected()
		total += int(affected)
	}

	if err := r.rebuildMetadataTx(ctx, tx, symbol, tf); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Storage(err, "commit upsert for %s %s", symbol, tf)
	}
	return total, nil
}

func (r *KlineRepo) rebuildMetadataTx(ctx context.Context, tx *sqlx.Tx, symbol string, tf domain.Timeframe) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ohlcv_metadata (symbol, timeframe, first_cached_time, last_cached_time, total_candles, last_updated_at)
		SELECT $1, $2, MIN(open_time), MAX(open_time), COUNT(*), NOW()
		FROM ohlcv
		WHERE symbol = $1 AND timeframe = $2
		ON CONFLICT (symbol, timeframe) DO UPDATE SET
			first_cached_time = EXCLUDED.first_cached_time,
			last_cached_time = EXCLUDED.last_cached_time,
			total_candles = EXCLUDED.total_candles,
			last_updated_at = NOW()`,
		symbol, tf.String())
	if err != nil {
		return errs.Storage(err, "rebuild metadata for %s %s", symbol, tf)
	}
	return nil
}

// QueryRange returns candles in ascending open_time. With a zero start
// and end, the most recent limit candles are returned (still ascending).
// The result never exceeds limit when limit > 0.
func (r *KlineRepo) QueryRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time, limit int) ([]domain.Kline, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []klineRow
	var err error
	switch {
	case start.IsZero() && end.IsZero():
		// Most recent N, served ascending.
		err = r.db.SelectContext(ctx, &rows, `
			SELECT symbol, timeframe, open_time, open, high, low, close, volume, close_time, fetched_at
			FROM (
				SELECT * FROM ohlcv
				WHERE symbol = $1 AND timeframe = $2
				ORDER BY open_time DESC
				LIMIT $3
			) recent
			ORDER BY open_time ASC`,
			symbol, tf.String(), limit)
	default:
		q := `
			SELECT symbol, timeframe, open_time, open, high, low, close, volume, close_time, fetched_at
			FROM ohlcv
			WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time < $4
			ORDER BY open_time ASC`
		args := []any{symbol, tf.String(), start.UTC(), end.UTC()}
		if limit > 0 {
			q += ` LIMIT $5`
			args = append(args, limit)
		}
		err = r.db.SelectContext(ctx, &rows, q, args...)
	}
	if err != nil {
		return nil, errs.Storage(err, "query %s %s", symbol, tf)
	}

	out := make([]domain.Kline, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// RecentKlines returns the most recent limit candles ascending.
func (r *KlineRepo) RecentKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	return r.QueryRange(ctx, symbol, tf, time.Time{}, time.Time{}, limit)
}

// LastCachedTime returns the newest cached open_time; ok is false when
// the cache holds nothing for the key.
func (r *KlineRepo) LastCachedTime(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var last sql.NullTime
	err := r.db.GetContext(ctx, &last, `
		SELECT MAX(open_time) FROM ohlcv WHERE symbol = $1 AND timeframe = $2`,
		symbol, tf.String())
	if err != nil {
		return time.Time{}, false, errs.Storage(err, "last cached time for %s %s", symbol, tf)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time.UTC(), true, nil
}

// CachedCount returns the number of cached candles for the key.
func (r *KlineRepo) CachedCount(ctx context.Context, symbol string, tf domain.Timeframe) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM ohlcv WHERE symbol = $1 AND timeframe = $2`,
		symbol, tf.String())
	if err != nil {
		return 0, errs.Storage(err, "cached count for %s %s", symbol, tf)
	}
	return count, nil
}

// GetMetadata reads the bookkeeping row; ok is false when absent.
func (r *KlineRepo) GetMetadata(ctx context.Context, symbol string, tf domain.Timeframe) (Metadata, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var md Metadata
	err := r.db.GetContext(ctx, &md, `
		SELECT symbol, timeframe, first_cached_time, last_cached_time, total_candles, last_updated_at
		FROM ohlcv_metadata WHERE symbol = $1 AND timeframe = $2`,
		symbol, tf.String())
	if err == sql.ErrNoRows {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, errs.Storage(err, "metadata for %s %s", symbol, tf)
	}
	return md, true, nil
}

// PurgeOlderThan deletes candles with open_time before threshold and
// rebuilds the metadata row. Returns the number of deleted rows.
func (r *KlineRepo) PurgeOlderThan(ctx context.Context, symbol string, tf domain.Timeframe, threshold time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errs.Storage(err, "begin purge for %s %s", symbol, tf)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM ohlcv WHERE symbol = $1 AND timeframe = $2 AND open_time < $3`,
		symbol, tf.String(), threshold.UTC())
	if err != nil {
		return 0, errs.Storage(err, "purge %s %s", symbol, tf)
	}
	if err := r.rebuildMetadataTx(ctx, tx, symbol, tf); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Storage(err, "commit purge for %s %s", symbol, tf)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// AllMetadata lists every bookkeeping row, for the cache stats surface.
func (r *KlineRepo) AllMetadata(ctx context.Context) ([]Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []Metadata
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, timeframe, first_cached_time, last_cached_time, total_candles, last_updated_at
		FROM ohlcv_metadata ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, errs.Storage(err, "list metadata")
	}
	return rows, nil
}
