package query

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/store/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "query.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	e := NewEngine(s, nil)
	e.SetSymbols([]string{"BTC"})
	return e, s
}

// seedBars inserts n ascending 1h bars ending one hour before now. rsiAt maps
// bar index to an RSI value; unmapped bars stay unwarmed (nil indicators).
// signalsAt maps bar index to a tag list.
func seedBars(t *testing.T, s *sqlite.Store, symbol string, n int, rsiAt map[int]float64, signalsAt map[int][]string) time.Time {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(n) * time.Hour)
	bars := make([]model.Candle, n)
	for i := range bars {
		bars[i] = model.Candle{
			Symbol:    symbol,
			Timeframe: "1h",
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      100 + float64(i),
			High:      110 + float64(i),
			Low:       90 + float64(i),
			Close:     105 + float64(i),
			Volume:    1000,
		}
		if rsi, ok := rsiAt[i]; ok {
			bars[i].Indicators = &model.IndicatorSet{RSI: model.Float(rsi)}
		}
		if tags, ok := signalsAt[i]; ok {
			bars[i].Signals = tags
		}
	}
	if _, err := s.InsertCandles(context.Background(), bars); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return base
}

func mustExecute(t *testing.T, e *Engine, req Request) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return res
}

func rawConds(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal conditions: %v", err)
	}
	return b
}

func TestParseNotRequiresOneChild(t *testing.T) {
	_, err := Parse(json.RawMessage(`{
		"operator": "not",
		"conditions": [
			{"field": "rsi", "operator": "gt", "value": 70},
			{"field": "rsi", "operator": "lt", "value": 30}
		]
	}`))
	if err == nil {
		t.Fatal("not with two children should be rejected")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestParseRejectsUnknownFieldAndOperator(t *testing.T) {
	if _, err := Parse(json.RawMessage(`{"field": "bogus", "operator": "eq", "value": 1}`)); err == nil {
		t.Error("unknown field accepted")
	}
	if _, err := Parse(json.RawMessage(`{"field": "rsi", "operator": "almost_eq", "value": 1}`)); err == nil {
		t.Error("unknown operator accepted")
	}
	if _, err := Parse(json.RawMessage(`{"field": "rsi", "operator": "between", "value": [1, 2, 3]}`)); err == nil {
		t.Error("between with three bounds accepted")
	}
}

func TestBetweenSkipsUnwarmedRows(t *testing.T) {
	e, s := newTestEngine(t)
	// 10 bars, RSI present on the last 3 only.
	seedBars(t, s, "BTC", 10, map[int]float64{7: 25, 8: 50, 9: 75}, nil)

	res := mustExecute(t, e, Request{
		Symbol:     "BTC",
		Timeframes: []string{"1h"},
		Conditions: rawConds(t, map[string]any{"field": "rsi", "operator": "between", "value": []float64{20, 60}}),
	})
	if res.MatchedRecords != 2 {
		t.Fatalf("matched = %d, want 2 (null RSI rows must not match)", res.MatchedRecords)
	}
	for _, c := range res.Data {
		if c.Indicators == nil || c.Indicators.RSI == nil {
			t.Error("returned a row without RSI")
		}
	}
}

func TestNullNeverMatchesNegatedComparison(t *testing.T) {
	e, s := newTestEngine(t)
	seedBars(t, s, "BTC", 5, map[int]float64{4: 80}, nil)

	// ne excludes both the equal row and every unwarmed row.
	res := mustExecute(t, e, Request{
		Symbol:     "BTC",
		Conditions: rawConds(t, map[string]any{"field": "rsi", "operator": "ne", "value": 80}),
	})
	if res.MatchedRecords != 0 {
		t.Errorf("ne matched %d rows, want 0", res.MatchedRecords)
	}

	// Logical NOT over a comparison behaves the same way: the warmed row at
	// 80 fails not(gt 50), and the unwarmed rows stay excluded rather than
	// flipping to matches.
	res = mustExecute(t, e, Request{
		Symbol: "BTC",
		Conditions: rawConds(t, map[string]any{
			"operator": "not",
			"conditions": []any{
				map[string]any{"field": "rsi", "operator": "gt", "value": 50},
			},
		}),
	})
	if res.MatchedRecords != 0 {
		t.Errorf("not(gt) matched %d rows, want 0 with one warmed row at 80 and rest null", res.MatchedRecords)
	}
}

func TestWithinLastWindow(t *testing.T) {
	e, s := newTestEngine(t)
	base := seedBars(t, s, "BTC", 48, nil, nil)

	// Pin the clock to the top of the seeded hour grid so the inclusive
	// cutoff lands exactly on a bar regardless of when the test runs.
	e.now = func() time.Time { return base.Add(48 * time.Hour) }

	res := mustExecute(t, e, Request{
		Symbol:     "BTC",
		Conditions: rawConds(t, map[string]any{"field": "timestamp", "operator": "within_last", "value": 6}),
	})
	// Bars end one hour before the pinned now, so a 6h window holds the
	// newest 6, with the oldest of them sitting on the cutoff itself.
	if res.MatchedRecords != 6 {
		t.Errorf("matched = %d, want 6", res.MatchedRecords)
	}
}

func TestSignalsContainsAnyOf(t *testing.T) {
	e, s := newTestEngine(t)
	seedBars(t, s, "BTC", 6, nil, map[int][]string{
		2: {model.SignalRSIOversold, model.SignalMACDBullishCross},
		4: {model.SignalVolumeDry},
	})

	res := mustExecute(t, e, Request{
		Symbol: "BTC",
		Conditions: rawConds(t, map[string]any{
			"field":    "signals",
			"operator": "contains",
			"value":    []string{model.SignalRSIOversold, model.SignalVolumeDry},
		}),
	})
	if res.MatchedRecords != 2 {
		t.Fatalf("matched = %d, want 2", res.MatchedRecords)
	}

	// not_contains is the complement, and bars with no tags qualify.
	res = mustExecute(t, e, Request{
		Symbol: "BTC",
		Conditions: rawConds(t, map[string]any{
			"field":    "signals",
			"operator": "not_contains",
			"value":    []string{model.SignalRSIOversold},
		}),
	})
	if res.MatchedRecords != 5 {
		t.Errorf("not_contains matched = %d, want 5", res.MatchedRecords)
	}
}

func TestExecuteSortLimitAndCounts(t *testing.T) {
	e, s := newTestEngine(t)
	seedBars(t, s, "BTC", 20, nil, nil)

	res := mustExecute(t, e, Request{
		Symbol:     "BTC",
		Timeframes: []string{"1h"},
		Limit:      5,
	})
	if res.TotalRecords != 20 {
		t.Errorf("total = %d, want 20 (pre-limit count)", res.TotalRecords)
	}
	if res.MatchedRecords != 5 || len(res.Data) != 5 {
		t.Fatalf("matched = %d, want 5", res.MatchedRecords)
	}
	// Default sort is timestamp descending.
	for i := 1; i < len(res.Data); i++ {
		if !res.Data[i].OpenTime.Before(res.Data[i-1].OpenTime) {
			t.Fatalf("rows not newest-first at index %d", i)
		}
	}
	if res.ExecutionTimeMs < 0 {
		t.Errorf("execution time = %v", res.ExecutionTimeMs)
	}
}

func TestExecuteValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Execute(ctx, Request{}); err == nil {
		t.Error("missing symbol accepted")
	}
	if _, err := e.Execute(ctx, Request{Symbol: "DOGE"}); err == nil {
		t.Error("symbol outside the configured set accepted")
	} else {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("unsupported symbol error type = %T, want *ValidationError", err)
		}
	}
	if _, err := e.HistoricalStats(ctx, "DOGE", "rsi", nil, 10); err == nil {
		t.Error("stats for symbol outside the configured set accepted")
	}
	if _, err := e.Execute(ctx, Request{Symbol: "BTC", Timeframes: []string{"2h"}}); err == nil {
		t.Error("unknown timeframe accepted")
	}
	if _, err := e.Execute(ctx, Request{Symbol: "BTC", SortBy: "nope"}); err == nil {
		t.Error("unknown sort field accepted")
	}
}

func TestHistoricalStats(t *testing.T) {
	e, s := newTestEngine(t)
	// RSI on the newest 4 bars: 40, 50, 60, 70 (oldest to newest).
	seedBars(t, s, "BTC", 10, map[int]float64{6: 40, 7: 50, 8: 60, 9: 70}, nil)

	stats, err := e.HistoricalStats(context.Background(), "BTC", "rsi", []string{"1h"}, 100)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	st := stats["1h"]
	if st == nil {
		t.Fatal("no 1h stats")
	}
	if st.Count != 4 {
		t.Errorf("count = %d, want 4 (nulls dropped)", st.Count)
	}
	if st.Min == nil || *st.Min != 40 || st.Max == nil || *st.Max != 70 {
		t.Errorf("min/max = %v/%v", st.Min, st.Max)
	}
	if st.Avg == nil || *st.Avg != 55 {
		t.Errorf("avg = %v, want 55", st.Avg)
	}
	if st.Current == nil || *st.Current != 70 {
		t.Errorf("current = %v, want 70 (newest)", st.Current)
	}
	if st.Previous == nil || *st.Previous != 60 {
		t.Errorf("previous = %v, want 60", st.Previous)
	}
}

func TestHistoricalStatsEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	stats, err := e.HistoricalStats(context.Background(), "BTC", "rsi", []string{"1h"}, 50)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	st := stats["1h"]
	if st == nil || st.Count != 0 || st.Min != nil || st.Current != nil {
		t.Errorf("empty stats = %+v, want zero shape with nil aggregates", st)
	}
	if _, err := e.HistoricalStats(context.Background(), "BTC", "signals", nil, 50); err == nil {
		t.Error("non-numeric field accepted")
	}
}
