// Package query implements the structured query engine over stored candles.
//
// A query is a predicate tree of field conditions combined with and/or/not,
// compiled into a single SQL WHERE clause and pushed down to SQLite. Indicator
// fields address the enrichment document with json_extract, so a row whose
// indicator has not warmed up yields SQL NULL and fails every comparison,
// negated ones included.
package query

import (
	"encoding/json"
	"fmt"
	"time"

	"signal-systemv1/internal/model"
)

// ValidationError marks a request the caller must fix. The gateway maps it
// to HTTP 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func errValidation(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Validationf builds a ValidationError. Shared with the alert registry so the
// HTTP layer maps every caller mistake the same way.
func Validationf(format string, args ...any) error {
	return errValidation(format, args...)
}

// Request is a structured query against one symbol across timeframes.
type Request struct {
	Symbol     string          `json:"symbol"`
	Timeframes []string        `json:"timeframes"`
	Conditions json.RawMessage `json:"conditions"`
	Limit      int             `json:"limit"`
	SortBy     string          `json:"sort_by"`
	SortOrder  string          `json:"sort_order"`
}

// Result carries matched rows plus bookkeeping. TotalRecords counts every row
// matching the predicate; MatchedRecords counts rows actually returned after
// the per-timeframe limit.
type Result struct {
	Symbol          string         `json:"symbol"`
	Timeframes      []string       `json:"timeframes"`
	TotalRecords    int            `json:"total_records"`
	MatchedRecords  int            `json:"matched_records"`
	Data            []model.Candle `json:"data"`
	QueryTime       time.Time      `json:"query_time"`
	ExecutionTimeMs float64        `json:"execution_time_ms"`
}

// FieldStats aggregates one field over recent history for a timeframe.
// Pointer fields are nil when no numeric values exist in the window.
type FieldStats struct {
	Count    int      `json:"count"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Avg      *float64 `json:"avg"`
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
}

// fieldExprs maps every queryable field to the SQL expression that reads it.
// Indicator fields share their public dotted names with the stored JSON
// document, so the path after "$." is the field name itself.
var fieldExprs = map[string]string{
	"open":   "open",
	"high":   "high",
	"low":    "low",
	"close":  "close",
	"volume": "volume",

	"rsi":                 "json_extract(indicators, '$.rsi')",
	"macd.macd_line":      "json_extract(indicators, '$.macd.macd_line')",
	"macd.macd_signal":    "json_extract(indicators, '$.macd.macd_signal')",
	"macd.macd_histogram": "json_extract(indicators, '$.macd.macd_histogram')",
	"ma.ma_5":             "json_extract(indicators, '$.ma.ma_5')",
	"ma.ma_10":            "json_extract(indicators, '$.ma.ma_10')",
	"ma.ma_20":            "json_extract(indicators, '$.ma.ma_20')",
	"ma.ma_50":            "json_extract(indicators, '$.ma.ma_50')",
	"bollinger.upper":     "json_extract(indicators, '$.bollinger.upper')",
	"bollinger.middle":    "json_extract(indicators, '$.bollinger.middle')",
	"bollinger.lower":     "json_extract(indicators, '$.bollinger.lower')",
	"cci":                 "json_extract(indicators, '$.cci')",
	"kdj.k":               "json_extract(indicators, '$.kdj.k')",
	"kdj.d":               "json_extract(indicators, '$.kdj.d')",
	"kdj.j":               "json_extract(indicators, '$.kdj.j')",
	"stochastic.k":        "json_extract(indicators, '$.stochastic.k')",
	"stochastic.d":        "json_extract(indicators, '$.stochastic.d')",
	"skdj.k":              "json_extract(indicators, '$.skdj.k')",
	"skdj.d":              "json_extract(indicators, '$.skdj.d')",

	"signals": "signals",

	"timestamp": "ts",
	"timeframe": "timeframe",
	"symbol":    "symbol",
}

// KnownField reports whether name is queryable.
func KnownField(name string) bool {
	_, ok := fieldExprs[name]
	return ok
}

// fieldExpr returns the SQL expression for a validated field name.
func fieldExpr(name string) string {
	return fieldExprs[name]
}
