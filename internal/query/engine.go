package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/store/sqlite"
)

const (
	// DefaultLimit is the per-timeframe row cap when the request omits one;
	// MaxLimit is the hard ceiling.
	DefaultLimit = 100
	MaxLimit     = 1000

	defaultStatsPeriods = 100
)

// Engine executes structured queries against the candle store.
type Engine struct {
	store   *sqlite.Store
	prom    *metrics.Metrics
	symbols map[string]struct{}
	now     func() time.Time
}

// NewEngine creates a query engine. prom may be nil.
func NewEngine(store *sqlite.Store, prom *metrics.Metrics) *Engine {
	return &Engine{store: store, prom: prom, now: time.Now}
}

// SetSymbols restricts queries to the configured symbol set. Without a set,
// any symbol is accepted. Set before concurrent use.
func (e *Engine) SetSymbols(symbols []string) {
	e.symbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		e.symbols[s] = struct{}{}
	}
}

func (e *Engine) checkSymbol(symbol string) error {
	if symbol == "" {
		return errValidation("symbol is required")
	}
	if len(e.symbols) > 0 {
		if _, ok := e.symbols[symbol]; !ok {
			return errValidation("unsupported symbol %q", symbol)
		}
	}
	return nil
}

// Execute validates and runs one query. Each requested timeframe is queried
// separately with an implicit symbol+timeframe filter ANDed in front of the
// caller's predicate; TotalRecords sums the pre-limit match counts while
// MatchedRecords counts rows actually returned.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := e.checkSymbol(req.Symbol); err != nil {
		return nil, err
	}
	tfs := req.Timeframes
	if len(tfs) == 0 {
		tfs = []string{"1h"}
	}
	for _, tf := range tfs {
		if !model.ValidTimeframe(tf) {
			return nil, errValidation("unknown timeframe %q", tf)
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "timestamp"
	}
	if !KnownField(sortBy) {
		return nil, errValidation("unknown sort field %q", sortBy)
	}
	dir := "DESC"
	switch strings.ToLower(req.SortOrder) {
	case "", "desc":
	case "asc":
		dir = "ASC"
	default:
		return nil, errValidation("sort_order must be asc or desc, got %q", req.SortOrder)
	}

	cond, err := Parse(req.Conditions)
	if err != nil {
		return nil, err
	}
	where, condArgs := compile(cond, e.now())

	res := &Result{
		Symbol:     req.Symbol,
		Timeframes: tfs,
		Data:       []model.Candle{},
		QueryTime:  e.now().UTC(),
	}

	db := e.store.DB()
	for _, tf := range tfs {
		full := "symbol = ? AND timeframe = ? AND " + where
		args := append([]any{req.Symbol, tf}, condArgs...)

		var total int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candles WHERE "+full, args...).Scan(&total)
		if err != nil {
			return nil, fmt.Errorf("query count %s/%s: %w", req.Symbol, tf, err)
		}
		res.TotalRecords += total

		q := fmt.Sprintf(`
			SELECT symbol, timeframe, ts, open, high, low, close, volume, indicators, signals, created_at, updated_at
			FROM candles
			WHERE %s
			ORDER BY %s %s
			LIMIT %d`, full, fieldExpr(sortBy), dir, limit)
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query %s/%s: %w", req.Symbol, tf, err)
		}
		candles, err := sqlite.ScanCandles(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		res.Data = append(res.Data, candles...)
	}

	res.MatchedRecords = len(res.Data)
	elapsed := time.Since(start)
	res.ExecutionTimeMs = float64(elapsed.Microseconds()) / 1000
	if e.prom != nil {
		e.prom.QueriesTotal.Inc()
		e.prom.QueryDur.Observe(elapsed.Seconds())
	}
	return res, nil
}

// HistoricalStats aggregates one numeric field over the newest periods bars
// per timeframe. Rows whose value is null (warm-up) are dropped before
// aggregation; Current is the newest surviving value, Previous the one before.
func (e *Engine) HistoricalStats(ctx context.Context, symbol, field string, timeframes []string, periods int) (map[string]*FieldStats, error) {
	if err := e.checkSymbol(symbol); err != nil {
		return nil, err
	}
	if !numericField(field) {
		return nil, errValidation("field %q has no numeric history", field)
	}
	if periods <= 0 {
		periods = defaultStatsPeriods
	}
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}
	for _, tf := range timeframes {
		if !model.ValidTimeframe(tf) {
			return nil, errValidation("unknown timeframe %q", tf)
		}
	}

	out := make(map[string]*FieldStats, len(timeframes))
	db := e.store.DB()
	for _, tf := range timeframes {
		q := fmt.Sprintf(`
			SELECT %s FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY ts DESC
			LIMIT %d`, fieldExpr(field), periods)
		rows, err := db.QueryContext(ctx, q, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("stats %s/%s: %w", symbol, tf, err)
		}
		values, err := scanNumeric(rows)
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("stats %s/%s: %w", symbol, tf, err)
		}
		out[tf] = statsOf(values)
	}
	return out, nil
}

// numericField reports whether name carries numeric per-bar history.
func numericField(name string) bool {
	switch name {
	case "signals", "symbol", "timeframe", "timestamp":
		return false
	}
	return KnownField(name)
}

// scanNumeric collects non-null values in the row order of the query
// (newest first).
func scanNumeric(rows *sql.Rows) ([]float64, error) {
	var values []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			values = append(values, v.Float64)
		}
	}
	return values, rows.Err()
}

func statsOf(values []float64) *FieldStats {
	st := &FieldStats{Count: len(values)}
	if len(values) == 0 {
		return st
	}
	mn, mx, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
		sum += v
	}
	st.Min = model.Float(mn)
	st.Max = model.Float(mx)
	st.Avg = model.Float(sum / float64(len(values)))
	st.Current = model.Float(values[0])
	if len(values) > 1 {
		st.Previous = model.Float(values[1])
	}
	return st
}
