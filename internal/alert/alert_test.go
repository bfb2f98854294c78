package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "alert.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ruleJSON(overrides map[string]any) []byte {
	base := map[string]any{
		"name":         "rsi watch",
		"symbol":       "BTC",
		"timeframes":   []string{"1h"},
		"trigger_type": "indicator_threshold",
		"trigger_conditions": map[string]any{
			"field": "rsi", "operator": "gt", "value": 70,
		},
		"webhook_url": "https://example.com/hook",
	}
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
		} else {
			base[k] = v
		}
	}
	b, _ := json.Marshal(base)
	return b
}

func seedMatchingCandle(t *testing.T, s *sqlite.Store, rsi float64) model.Candle {
	t.Helper()
	c := model.Candle{
		Symbol:    "BTC",
		Timeframe: "1h",
		OpenTime:  time.Now().UTC().Truncate(time.Hour),
		Open:      100, High: 110, Low: 90, Close: 105, Volume: 1000,
		Indicators: &model.IndicatorSet{RSI: model.Float(rsi)},
		Signals:    []string{model.SignalRSIOverbought},
	}
	if _, err := s.InsertCandles(context.Background(), []model.Candle{c}); err != nil {
		t.Fatalf("seed candle: %v", err)
	}
	return c
}

func TestCreateRuleDefaults(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	rule, err := reg.CreateRule(context.Background(), ruleJSON(nil))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rule.ID == "" {
		t.Error("no id assigned")
	}
	if !rule.IsActive {
		t.Error("new rule should default to active")
	}
	if rule.Frequency != model.FreqEveryTime {
		t.Errorf("frequency = %q, want every_time", rule.Frequency)
	}
	if rule.MessageType != model.MessageText {
		t.Errorf("message type = %q, want text", rule.MessageType)
	}
}

func TestCreateRuleRejectsUnknownField(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	raw := ruleJSON(map[string]any{"frequencyy": "once"})
	if _, err := reg.CreateRule(context.Background(), raw); err == nil {
		t.Fatal("typoed field accepted")
	}
	var ve *query.ValidationError
	_, err := reg.CreateRule(context.Background(), raw)
	if !errors.As(err, &ve) {
		t.Errorf("error type = %T", err)
	}
}

func TestCreateRuleAcceptsEnvelopeRequestID(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	ctx := context.Background()

	// request_id belongs to the envelope; clients that echo it into the
	// body must not trip the unknown-field rejection.
	rule, err := reg.CreateRule(ctx, ruleJSON(map[string]any{"request_id": "req-1"}))
	if err != nil {
		t.Fatalf("create with request_id: %v", err)
	}
	if _, err := reg.UpdateRule(ctx, rule.ID, []byte(`{"name": "renamed", "request_id": "req-2"}`)); err != nil {
		t.Fatalf("update with request_id: %v", err)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	ctx := context.Background()

	cases := map[string]map[string]any{
		"missing name":       {"name": nil},
		"missing webhook":    {"webhook_url": nil},
		"bad timeframe":      {"timeframes": []string{"2h"}},
		"bad trigger type":   {"trigger_type": "telepathy"},
		"bad frequency":      {"frequency": "sometimes"},
		"missing conditions": {"trigger_conditions": nil},
		"bad condition tree": {"trigger_conditions": map[string]any{"field": "rsi", "operator": "nope", "value": 1}},
	}
	for name, overrides := range cases {
		if _, err := reg.CreateRule(ctx, ruleJSON(overrides)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestUpdateRule(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	ctx := context.Background()

	rule, err := reg.CreateRule(ctx, ruleJSON(nil))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := reg.UpdateRule(ctx, rule.ID, []byte(`{"is_active": false, "frequency": "daily"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive {
		t.Error("is_active not applied")
	}
	if updated.Frequency != model.FreqDaily {
		t.Errorf("frequency = %q", updated.Frequency)
	}
	if updated.Name != rule.Name {
		t.Error("untouched field changed")
	}

	if _, err := reg.UpdateRule(ctx, "missing-id", []byte(`{}`)); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("update missing rule: err = %v, want ErrNotFound", err)
	}
}

func newDispatchPair(t *testing.T, handler http.HandlerFunc) (*sqlite.Store, *Dispatcher, *httptest.Server) {
	t.Helper()
	store := newTestStore(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return store, NewDispatcher(store, srv.URL, "", nil), srv
}

func TestDispatchEnvelopeAndState(t *testing.T) {
	var envelope map[string]any
	store, d, _ := newDispatchPair(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/alert/trigger" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&envelope)
		w.Write([]byte(`{"success": true, "message_id": "m1"}`))
	})

	reg := NewRegistry(store)
	ctx := context.Background()
	rule, err := reg.CreateRule(ctx, ruleJSON(map[string]any{"frequency": "once"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	matched := seedMatchingCandle(t, store, 85)

	rec, err := d.Dispatch(ctx, rule, &matched)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !rec.MessageSent {
		t.Error("message_sent should be true on success body")
	}
	if envelope["alert_type"] != "indicator_alert" {
		t.Errorf("alert_type = %v", envelope["alert_type"])
	}
	if envelope["rule_id"] != rule.ID || envelope["symbol"] != "BTC" || envelope["timeframe"] != "1h" {
		t.Errorf("envelope identity = %v/%v/%v", envelope["rule_id"], envelope["symbol"], envelope["timeframe"])
	}
	if !strings.HasPrefix(rec.RequestID, "req_") {
		t.Errorf("request id = %q", rec.RequestID)
	}
	td, _ := envelope["trigger_data"].(map[string]any)
	if td["indicator"] != "rsi" || td["current_value"] != 85.0 {
		t.Errorf("trigger_data = %v", td)
	}

	// Rule state advanced.
	after, err := reg.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.TriggerCount != 1 || after.LastTriggeredAt == nil {
		t.Errorf("state = count %d, last %v", after.TriggerCount, after.LastTriggeredAt)
	}

	// History row landed.
	hist, err := store.RecentTriggers(ctx, rule.ID, 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
}

func TestDispatchFailureStillAdvancesState(t *testing.T) {
	long := strings.Repeat("x", 2000)
	store, d, _ := newDispatchPair(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(long))
	})

	reg := NewRegistry(store)
	ctx := context.Background()
	rule, _ := reg.CreateRule(ctx, ruleJSON(nil))
	matched := seedMatchingCandle(t, store, 85)

	rec, err := d.Dispatch(ctx, rule, &matched)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.MessageSent {
		t.Error("message_sent should be false on 502")
	}
	snippet, _ := rec.WebhookResponse["response"].(string)
	if len(snippet) != 500 {
		t.Errorf("response snippet length = %d, want 500", len(snippet))
	}

	after, _ := reg.GetRule(ctx, rule.ID)
	if after.TriggerCount != 1 {
		t.Errorf("trigger count = %d, state must advance on failed delivery", after.TriggerCount)
	}
}

func TestSignalTriggerData(t *testing.T) {
	rule := &model.Rule{
		TriggerType: model.TriggerSignalDetection,
		TriggerConditions: json.RawMessage(`{
			"field": "signals", "operator": "contains",
			"value": ["RSI_OVERBOUGHT", "MACD_BEARISH_CROSS"]
		}`),
	}
	matched := &model.Candle{
		Signals: []string{model.SignalRSIOverbought, model.SignalMACDBearishCross, model.SignalBBUpperTouch},
	}
	td := buildTriggerData(rule, matched)
	detected, _ := td["detected_signals"].([]string)
	if len(detected) != 2 {
		t.Fatalf("detected = %v", detected)
	}
	if td["signal_strength"] != "high" {
		t.Errorf("strength = %v, want high for multiple detections", td["signal_strength"])
	}
}

func TestEvaluatorGating(t *testing.T) {
	e := &Evaluator{now: time.Now}
	recent := time.Now().UTC().Add(-10 * time.Minute)
	old := time.Now().UTC().Add(-25 * time.Hour)

	cases := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{"once unfired", model.Rule{Frequency: model.FreqOnce}, false},
		{"once fired", model.Rule{Frequency: model.FreqOnce, TriggerCount: 1}, true},
		{"every_time fired", model.Rule{Frequency: model.FreqEveryTime, TriggerCount: 9, LastTriggeredAt: &recent}, false},
		{"hourly recent", model.Rule{Frequency: model.FreqHourly, LastTriggeredAt: &recent}, true},
		{"hourly stale", model.Rule{Frequency: model.FreqHourly, LastTriggeredAt: &old}, false},
		{"daily recent", model.Rule{Frequency: model.FreqDaily, LastTriggeredAt: &recent}, true},
		{"daily stale", model.Rule{Frequency: model.FreqDaily, LastTriggeredAt: &old}, false},
	}
	for _, tc := range cases {
		if got := e.suppressed(&tc.rule); got != tc.want {
			t.Errorf("%s: suppressed = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckOnceDispatchesMatches(t *testing.T) {
	var hits atomic.Int32
	store, d, _ := newDispatchPair(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"success": true}`))
	})

	reg := NewRegistry(store)
	ctx := context.Background()
	if _, err := reg.CreateRule(ctx, ruleJSON(map[string]any{"frequency": "once"})); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Second rule that cannot match.
	if _, err := reg.CreateRule(ctx, ruleJSON(map[string]any{
		"name":               "never",
		"trigger_conditions": map[string]any{"field": "rsi", "operator": "gt", "value": 200},
	})); err != nil {
		t.Fatalf("create: %v", err)
	}
	seedMatchingCandle(t, store, 85)

	e := NewEvaluator(store, query.NewEngine(store, nil), d, time.Minute, nil)
	if err := e.CheckOnce(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("webhook hits = %d, want 1", hits.Load())
	}

	// The once-rule is now suppressed; a second sweep fires nothing.
	if err := e.CheckOnce(ctx); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("webhook hits after second sweep = %d, want still 1", hits.Load())
	}
}

func TestEvaluatorStartStop(t *testing.T) {
	store, d, _ := newDispatchPair(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true}`))
	})
	e := NewEvaluator(store, query.NewEngine(store, nil), d, 50*time.Millisecond, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("double start accepted")
	}
	st := e.Status()
	if st["is_monitoring"] != true {
		t.Errorf("status = %v", st)
	}

	e.Stop()
	if e.Running() {
		t.Error("still running after stop")
	}
	// Idempotent stop.
	e.Stop()
}
