package gateway

import (
	"encoding/json"
	"net/http"

	"signal-systemv1/internal/query"
)

// Analysis endpoints are canned query builders: each one assembles a predicate
// tree from a few scalar parameters and runs it through the query engine, so
// dashboards get common questions answered without writing condition JSON.

func leaf(field, operator string, value any) map[string]any {
	return map[string]any{"field": field, "operator": operator, "value": value}
}

func allOf(conditions ...map[string]any) map[string]any {
	return map[string]any{"operator": "and", "conditions": conditions}
}

func anyOf(conditions ...map[string]any) map[string]any {
	return map[string]any{"operator": "or", "conditions": conditions}
}

func marshalConditions(c map[string]any) json.RawMessage {
	raw, _ := json.Marshal(c)
	return raw
}

// handleQuerySignals finds recent bars carrying any of the named signals and
// summarizes how often and where they fired.
func (s *Server) handleQuerySignals(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	var body struct {
		Symbol      string   `json:"symbol"`
		Timeframes  []string `json:"timeframes"`
		SignalNames []string `json:"signal_names"`
		Periods     int      `json:"periods"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, reqID, err)
		return
	}
	if len(body.SignalNames) == 0 {
		writeError(w, reqID, query.Validationf("signal_names is required"))
		return
	}
	if body.Periods <= 0 {
		body.Periods = 24
	}

	res, err := s.engine.Execute(r.Context(), query.Request{
		Symbol:     body.Symbol,
		Timeframes: body.Timeframes,
		Conditions: marshalConditions(allOf(
			leaf("signals", "contains", body.SignalNames),
			leaf("timestamp", "within_last", body.Periods),
		)),
		Limit: 100,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	wanted := make(map[string]bool, len(body.SignalNames))
	for _, name := range body.SignalNames {
		wanted[name] = true
	}
	signalCounts := map[string]int{}
	tfDistribution := map[string]int{}
	total := 0
	for _, c := range res.Data {
		tfDistribution[c.Timeframe]++
		for _, tag := range c.Signals {
			if wanted[tag] {
				signalCounts[tag]++
				total++
			}
		}
	}

	doc := resultDoc(res)
	doc["signal_analysis"] = map[string]any{
		"total_occurrences":      total,
		"signal_counts":          signalCounts,
		"timeframe_distribution": tfDistribution,
	}
	writeDoc(w, http.StatusOK, reqID, doc)
}

// handlePriceAnalysis answers two canned questions about a price level:
// breakout (bars whose high pierced the level) and support (bars that dipped
// to the level but closed back above it).
func (s *Server) handlePriceAnalysis(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	var body struct {
		Symbol       string   `json:"symbol"`
		Timeframes   []string `json:"timeframes"`
		AnalysisType string   `json:"analysis_type"`
		PriceLevel   *float64 `json:"price_level"`
		Periods      int      `json:"periods"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, reqID, err)
		return
	}
	if body.PriceLevel == nil {
		writeError(w, reqID, query.Validationf("price_level is required"))
		return
	}
	if body.Periods <= 0 {
		body.Periods = 48
	}

	level := *body.PriceLevel
	window := leaf("timestamp", "within_last", body.Periods)
	var cond map[string]any
	switch body.AnalysisType {
	case "breakout":
		cond = allOf(leaf("high", "gt", level), window)
	case "support":
		cond = allOf(leaf("low", "lte", level), leaf("close", "gt", level), window)
	default:
		writeError(w, reqID, query.Validationf("analysis_type must be breakout or support, got %q", body.AnalysisType))
		return
	}

	res, err := s.engine.Execute(r.Context(), query.Request{
		Symbol:     body.Symbol,
		Timeframes: body.Timeframes,
		Conditions: marshalConditions(cond),
		Limit:      50,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	tfDistribution := map[string]int{}
	for _, c := range res.Data {
		tfDistribution[c.Timeframe]++
	}

	doc := resultDoc(res)
	doc["price_analysis"] = map[string]any{
		"analysis_type":          body.AnalysisType,
		"price_level":            level,
		"occurrences":            res.TotalRecords,
		"timeframe_distribution": tfDistribution,
	}
	writeDoc(w, http.StatusOK, reqID, doc)
}

// extremeIndicators maps the short indicator names the endpoint accepts to
// their queryable field paths.
var extremeIndicators = map[string]string{
	"rsi":       "rsi",
	"cci":       "cci",
	"macd_line": "macd.macd_line",
	"ma_20":     "ma.ma_20",
}

// handleIndicatorExtremes finds bars where an indicator is near its own
// historical extreme: at or above 95% of the lookback max (historical_high),
// or within the bottom 5% of the lookback range (historical_low), per
// timeframe.
func (s *Server) handleIndicatorExtremes(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	var body struct {
		Symbol          string   `json:"symbol"`
		Timeframes      []string `json:"timeframes"`
		Indicator       string   `json:"indicator"`
		Comparison      string   `json:"comparison"`
		LookbackPeriods int      `json:"lookback_periods"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, reqID, err)
		return
	}
	field, ok := extremeIndicators[body.Indicator]
	if !ok {
		writeError(w, reqID, query.Validationf("unknown indicator %q", body.Indicator))
		return
	}
	if body.Comparison != "historical_high" && body.Comparison != "historical_low" {
		writeError(w, reqID, query.Validationf("comparison must be historical_high or historical_low, got %q", body.Comparison))
		return
	}
	if body.LookbackPeriods <= 0 {
		body.LookbackPeriods = 100
	}
	tfs := body.Timeframes
	if len(tfs) == 0 {
		tfs = []string{"1h"}
	}

	stats, err := s.engine.HistoricalStats(r.Context(), body.Symbol, field, tfs, body.LookbackPeriods)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	var branches []map[string]any
	thresholds := map[string]float64{}
	for _, tf := range tfs {
		st := stats[tf]
		if st == nil || st.Count == 0 {
			continue
		}
		var threshold float64
		var op string
		if body.Comparison == "historical_high" {
			threshold = *st.Max * 0.95
			op = "gte"
		} else {
			// Band off the observed range, not the min itself: oscillators
			// like CCI and the MACD histogram go negative, where a
			// multiplicative band would widen instead of narrow.
			threshold = *st.Min + 0.05*(*st.Max-*st.Min)
			op = "lte"
		}
		thresholds[tf] = threshold
		branches = append(branches, allOf(
			leaf(field, op, threshold),
			leaf("timeframe", "eq", tf),
		))
	}

	if len(branches) == 0 {
		writeDoc(w, http.StatusOK, reqID, map[string]any{
			"symbol":           body.Symbol,
			"timeframes":       tfs,
			"total_records":    0,
			"matched_records":  0,
			"data":             []any{},
			"historical_stats": stats,
			"comparison_type":  body.Comparison,
			"indicator":        body.Indicator,
		})
		return
	}

	res, err := s.engine.Execute(r.Context(), query.Request{
		Symbol:     body.Symbol,
		Timeframes: tfs,
		Conditions: marshalConditions(anyOf(branches...)),
		Limit:      20,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	doc := resultDoc(res)
	doc["historical_stats"] = stats
	doc["thresholds"] = thresholds
	doc["comparison_type"] = body.Comparison
	doc["indicator"] = body.Indicator
	writeDoc(w, http.StatusOK, reqID, doc)
}
