package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signal-systemv1/internal/model"
)

// InsertCandles writes candle rows inside a single transaction, skipping rows
// whose (symbol, timeframe, ts) already exist so enrichment on stored rows is
// never clobbered by a re-fetch. Returns the number of newly inserted rows.
func (s *Store) InsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO candles
			(symbol, timeframe, ts, open, high, low, close, volume, indicators, signals, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, c := range candles {
		indicators, signals, err := marshalEnrichment(c)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		res, err := stmt.ExecContext(ctx,
			c.Symbol, c.Timeframe, c.OpenTime.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
			indicators, signals, now, now,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert candle: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	start := time.Now()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	if s.onCommitDur != nil {
		s.onCommitDur(time.Since(start))
	}
	return inserted, nil
}

// UpdateIndicators attaches an indicator set to one stored candle.
func (s *Store) UpdateIndicators(ctx context.Context, symbol, timeframe string, openTime time.Time, set *model.IndicatorSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE candles SET indicators = ?, updated_at = ?
		WHERE symbol = ? AND timeframe = ? AND ts = ?
	`, string(data), time.Now().UnixMilli(), symbol, timeframe, openTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite update indicators: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSignals attaches detected signal tags to one stored candle.
func (s *Store) UpdateSignals(ctx context.Context, symbol, timeframe string, openTime time.Time, signals []string) error {
	if signals == nil {
		signals = []string{}
	}
	data, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE candles SET signals = ?, updated_at = ?
		WHERE symbol = ? AND timeframe = ? AND ts = ?
	`, string(data), time.Now().UnixMilli(), symbol, timeframe, openTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite update signals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentCandles returns the newest limit candles for a pair key, ascending by
// open time so the caller can feed them straight into indicator windows.
func (s *Store) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, indicators, signals, created_at, updated_at
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles, err := ScanCandles(rows)
	if err != nil {
		return nil, err
	}
	// Newest-first from the index; reverse into chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// LatestCandle returns the newest candle for a pair key, or nil when the pair
// has no rows yet.
func (s *Store) LatestCandle(ctx context.Context, symbol, timeframe string) (*model.Candle, error) {
	candles, err := s.RecentCandles(ctx, symbol, timeframe, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	return &candles[0], nil
}

// CandleCount returns the number of stored rows for a pair key.
func (s *Store) CandleCount(ctx context.Context, symbol, timeframe string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count candles: %w", err)
	}
	return n, nil
}

// DeleteCandlesBefore removes rows of the given timeframes older than cutoff.
// Returns the number of deleted rows.
func (s *Store) DeleteCandlesBefore(ctx context.Context, timeframes []string, cutoff time.Time) (int64, error) {
	if len(timeframes) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(timeframes)+1)
	marks := ""
	for i, tf := range timeframes {
		if i > 0 {
			marks += ","
		}
		marks += "?"
		args = append(args, tf)
	}
	args = append(args, cutoff.UnixMilli())

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM candles WHERE timeframe IN (`+marks+`) AND ts < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete candles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ScanCandles reads candle rows produced by a SELECT over the candles table's
// full column list. Shared with the query engine, which builds its own WHERE.
func ScanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var (
			c          model.Candle
			tsMs       int64
			indicators sql.NullString
			signals    sql.NullString
			createdMs  int64
			updatedMs  int64
		)
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &tsMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&indicators, &signals, &createdMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.OpenTime = time.UnixMilli(tsMs).UTC()
		c.CreatedAt = time.UnixMilli(createdMs).UTC()
		c.UpdatedAt = time.UnixMilli(updatedMs).UTC()

		if indicators.Valid && indicators.String != "" {
			set := &model.IndicatorSet{}
			if err := json.Unmarshal([]byte(indicators.String), set); err != nil {
				return nil, fmt.Errorf("unmarshal indicators: %w", err)
			}
			c.Indicators = set
		}
		if signals.Valid && signals.String != "" {
			if err := json.Unmarshal([]byte(signals.String), &c.Signals); err != nil {
				return nil, fmt.Errorf("unmarshal signals: %w", err)
			}
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func marshalEnrichment(c model.Candle) (indicators, signals any, err error) {
	if c.Indicators != nil {
		b, err := json.Marshal(c.Indicators)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal indicators: %w", err)
		}
		indicators = string(b)
	}
	if c.Signals != nil {
		b, err := json.Marshal(c.Signals)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal signals: %w", err)
		}
		signals = string(b)
	}
	return indicators, signals, nil
}
