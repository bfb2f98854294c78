package gateway

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/query"
)

// resultDoc flattens a query result into the response envelope.
func resultDoc(res *query.Result) map[string]any {
	return map[string]any{
		"symbol":            res.Symbol,
		"timeframes":        res.Timeframes,
		"total_records":     res.TotalRecords,
		"matched_records":   res.MatchedRecords,
		"data":              res.Data,
		"query_time":        res.QueryTime,
		"execution_time_ms": res.ExecutionTimeMs,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	components := map[string]any{}
	healthy := true

	if err := s.store.DB().PingContext(ctx); err != nil {
		components["database"] = "error: " + err.Error()
		healthy = false
	} else {
		components["database"] = "ok"
	}

	if s.hot == nil {
		components["redis"] = "disabled"
	} else if err := s.hot.Client().Ping(ctx).Err(); err != nil {
		components["redis"] = "error: " + err.Error()
		healthy = false
	} else {
		components["redis"] = "ok"
	}

	components["monitoring"] = map[string]any{"running": s.evaluator.Running()}
	if s.hub != nil {
		components["ws_clients"] = s.hub.ClientCount()
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{
		"status":     status,
		"components": components,
		"checked_at": timeNow().UTC(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	var req query.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, reqID, err)
		return
	}
	res, err := s.engine.Execute(r.Context(), req)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, resultDoc(res))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, reqID, query.Validationf("read body: %v", err))
		return
	}
	rule, err := s.registry.CreateRule(r.Context(), raw)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusCreated, reqID, map[string]any{"rule": rule})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	q := r.URL.Query()

	activeOnly := false
	if v := q.Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, reqID, query.Validationf("active_only must be a boolean, got %q", v))
			return
		}
		activeOnly = b
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, reqID, query.Validationf("limit must be a non-negative integer, got %q", v))
			return
		}
		limit = n
	}

	rules, err := s.registry.ListRules(r.Context(), activeOnly, q.Get("symbol"), limit)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	rule, err := s.registry.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{"rule": rule})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, reqID, query.Validationf("read body: %v", err))
		return
	}
	rule, err := s.registry.UpdateRule(r.Context(), r.PathValue("id"), raw)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{"rule": rule})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	id := r.PathValue("id")
	if err := s.registry.DeleteRule(r.Context(), id); err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{
		"deleted": true,
		"rule_id": id,
	})
}

// handleTestRule dry-runs a rule: pings its webhook and executes its predicate
// over recent data. Nothing is dispatched and no trigger state advances.
func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	rule, err := s.registry.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	webhookTest := s.lark.TestWebhook(r.Context(), rule.WebhookURL)

	queryTest := map[string]any{}
	res, err := s.engine.Execute(r.Context(), query.Request{
		Symbol:     rule.Symbol,
		Timeframes: rule.Timeframes,
		Conditions: rule.TriggerConditions,
		Limit:      5,
	})
	if err != nil {
		queryTest["error"] = err.Error()
	} else {
		queryTest["matched_records"] = res.MatchedRecords
		queryTest["total_records"] = res.TotalRecords
		queryTest["execution_time_ms"] = res.ExecutionTimeMs
	}

	writeDoc(w, http.StatusOK, reqID, map[string]any{
		"rule_info": map[string]any{
			"id":         rule.ID,
			"name":       rule.Name,
			"symbol":     rule.Symbol,
			"timeframes": rule.Timeframes,
		},
		"webhook_test": webhookTest,
		"query_test":   queryTest,
	})
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	var body struct {
		WebhookURL string `json:"webhook_url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, reqID, err)
		return
	}
	if body.WebhookURL == "" {
		writeError(w, reqID, query.Validationf("webhook_url is required"))
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{
		"webhook_test": s.lark.TestWebhook(r.Context(), body.WebhookURL),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{"stats": stats})
}

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	// Detached from the request context: the evaluator outlives this call.
	if err := s.evaluator.Start(context.Background()); err != nil {
		writeError(w, reqID, query.Validationf("%v", err))
		return
	}
	if s.health != nil {
		s.health.SetEvaluatorOK(true)
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{"message": "monitoring started"})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	s.evaluator.Stop()
	if s.health != nil {
		s.health.SetEvaluatorOK(false)
	}
	writeDoc(w, http.StatusOK, reqID, map[string]any{"message": "monitoring stopped"})
}

func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	writeDoc(w, http.StatusOK, reqID, map[string]any{"monitoring": s.evaluator.Status()})
}

// handleSymbolSignals summarizes current signal activity for a symbol: the
// two newest bars per timeframe plus a frequency count of the tags they carry.
func (s *Server) handleSymbolSignals(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	symbol := r.PathValue("symbol")

	tfs := s.cfg.Timeframes
	if v := r.URL.Query().Get("timeframes"); v != "" {
		tfs = strings.Split(v, ",")
	}

	res, err := s.engine.Execute(r.Context(), query.Request{
		Symbol:     symbol,
		Timeframes: tfs,
		Limit:      2,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	byTimeframe := make(map[string][]model.Candle, len(tfs))
	signalCounts := map[string]int{}
	for _, c := range res.Data {
		byTimeframe[c.Timeframe] = append(byTimeframe[c.Timeframe], c)
		for _, tag := range c.Signals {
			signalCounts[tag]++
		}
	}

	doc := map[string]any{
		"symbol":        symbol,
		"timeframes":    byTimeframe,
		"signal_counts": signalCounts,
		"checked_at":    timeNow().UTC(),
	}
	// The hot cache holds the newest enriched bar per timeframe; serve it
	// alongside the stored rows when Redis is up.
	if s.hot != nil {
		if latest, err := s.hot.LatestCandles(r.Context(), symbol, tfs); err == nil && len(latest) > 0 {
			doc["latest"] = latest
		}
	}
	writeDoc(w, http.StatusOK, reqID, doc)
}
