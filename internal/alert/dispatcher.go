package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/sqlite"

	"github.com/pquerna/otp/totp"
)

const (
	triggerPath        = "/webhook/alert/trigger"
	dispatchTimeout    = 30 * time.Second
	responseSnippetMax = 500
)

// alertTypeFor maps a rule's trigger type to the envelope alert type.
func alertTypeFor(t model.TriggerType) string {
	switch t {
	case model.TriggerPriceThreshold:
		return "price_alert"
	case model.TriggerIndicatorThreshold:
		return "indicator_alert"
	case model.TriggerSignalDetection:
		return "signal_alert"
	case model.TriggerPatternMatch:
		return "pattern_alert"
	case model.TriggerCustomQuery:
		return "custom_alert"
	}
	return "unknown_alert"
}

// TriggerSink mirrors fired triggers onto the hot path for live consumers.
// Satisfied by the Redis writer.
type TriggerSink interface {
	AppendTrigger(ctx context.Context, rec *model.TriggerRecord) error
}

// Dispatcher turns a matched rule into a trigger envelope, posts it to the
// webhook receiver, and records the outcome. Rule trigger state is updated
// whether or not delivery succeeds, so a flapping receiver cannot make a
// once-rule fire forever.
type Dispatcher struct {
	store     *sqlite.Store
	client    *http.Client
	baseURL   string
	otpSecret string
	sink      TriggerSink
	prom      *metrics.Metrics
	now       func() time.Time
}

// SetTriggerSink attaches a hot-path sink for fired triggers.
func (d *Dispatcher) SetTriggerSink(sink TriggerSink) { d.sink = sink }

// NewDispatcher creates a dispatcher posting to baseURL+"/webhook/alert/trigger".
// otpSecret, when set, adds a TOTP X-Alert-OTP header. prom may be nil.
func NewDispatcher(store *sqlite.Store, baseURL, otpSecret string, prom *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		client:    &http.Client{Timeout: dispatchTimeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		otpSecret: otpSecret,
		prom:      prom,
		now:       time.Now,
	}
}

// Dispatch fires the trigger pipeline for one matched rule. matched is the
// newest bar satisfying the rule's predicate, nil when unavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *model.Rule, matched *model.Candle) (*model.TriggerRecord, error) {
	now := d.now().UTC()
	requestID := logger.NewRequestID(now)
	ctx = logger.WithRequestID(ctx, requestID)

	tf := "1h"
	if matched != nil && matched.Timeframe != "" {
		tf = matched.Timeframe
	}

	envelope := map[string]any{
		"request_id":   requestID,
		"alert_type":   alertTypeFor(rule.TriggerType),
		"rule_id":      rule.ID,
		"rule_name":    rule.Name,
		"symbol":       rule.Symbol,
		"timeframe":    tf,
		"trigger_time": now.Format(time.RFC3339),
		"trigger_data": buildTriggerData(rule, matched),
		"notification_config": map[string]any{
			"target_webhook": rule.WebhookURL,
			"message_type":   string(rule.MessageType),
			"frequency":      string(rule.Frequency),
		},
	}

	messageSent, webhookResp := d.post(ctx, requestID, envelope)
	attrs := append(logger.LogWithRequest(ctx),
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.Name),
		slog.String("symbol", rule.Symbol),
		slog.Bool("sent", messageSent),
	)
	if messageSent {
		slog.Info("alert trigger delivered", attrs...)
	} else {
		slog.Warn("alert trigger delivery failed",
			append(attrs, slog.Any("error", webhookResp["error"]))...)
	}

	// Trigger state advances regardless of delivery outcome.
	if err := d.store.MarkRuleTriggered(ctx, rule.ID, now); err != nil {
		log.Printf("[dispatcher] mark rule %s triggered: %v", rule.ID, err)
	}

	rec := model.TriggerRecord{
		RequestID:       requestID,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Symbol:          rule.Symbol,
		Timeframe:       tf,
		TriggerTime:     now,
		TriggerData:     envelope["trigger_data"].(map[string]any),
		MessageSent:     messageSent,
		WebhookResponse: webhookResp,
	}
	if err := d.store.InsertTrigger(ctx, rec); err != nil {
		log.Printf("[dispatcher] record trigger for rule %s: %v", rule.ID, err)
	}
	if d.sink != nil {
		if err := d.sink.AppendTrigger(ctx, &rec); err != nil {
			log.Printf("[dispatcher] trigger sink for rule %s: %v", rule.ID, err)
		}
	}
	if d.prom != nil {
		d.prom.AlertsTriggered.Inc()
	}
	return &rec, nil
}

// post delivers the envelope and interprets the response. Delivery counts as
// sent only on a 2xx status whose JSON body says success.
func (d *Dispatcher) post(ctx context.Context, requestID string, envelope map[string]any) (bool, map[string]any) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return false, map[string]any{"error": err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+triggerPath, bytes.NewReader(body))
	if err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if d.otpSecret != "" {
		if code, err := totp.GenerateCode(d.otpSecret, d.now()); err == nil {
			req.Header.Set("X-Alert-OTP", code)
		} else {
			log.Printf("[dispatcher] totp generate: %v", err)
		}
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if d.prom != nil {
		d.prom.WebhookSendDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if d.prom != nil {
			d.prom.WebhookFailures.Inc()
		}
		return false, map[string]any{"error": err.Error()}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if d.prom != nil {
			d.prom.WebhookFailures.Inc()
		}
		return false, map[string]any{
			"error":    fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			"response": truncate(string(data), responseSnippetMax),
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return false, map[string]any{
			"error":    "unparseable webhook response",
			"response": truncate(string(data), responseSnippetMax),
		}
	}
	sent, _ := parsed["success"].(bool)
	if !sent && d.prom != nil {
		d.prom.WebhookFailures.Inc()
	}
	return sent, parsed
}

// buildTriggerData assembles the type-specific payload from the rule's first
// predicate leaf and the matched bar.
func buildTriggerData(rule *model.Rule, matched *model.Candle) map[string]any {
	leaf := firstLeaf(rule.TriggerConditions)
	data := map[string]any{}
	if rule.CustomMessage != "" {
		data["custom_message"] = rule.CustomMessage
	}

	var threshold, actual any
	op := ""
	if leaf != nil {
		threshold = thresholdOf(leaf)
		op = leaf.Operator
		actual = leafValue(matched, leaf.Field)
		data["threshold"] = threshold
		data["comparison"] = op
		data["actual_value"] = actual
	}

	switch rule.TriggerType {
	case model.TriggerPriceThreshold:
		var price any
		if matched != nil {
			price = matched.Close
		}
		data["actual_price"] = price
		data["condition"] = op
		data["description"] = fmt.Sprintf("price condition met: close %s %v", op, threshold)

	case model.TriggerIndicatorThreshold:
		field := ""
		if leaf != nil {
			field = leaf.Field
		}
		data["indicator"] = field
		data["current_value"] = actual
		data["condition"] = op
		data["description"] = fmt.Sprintf("indicator condition met: %s %s %v", field, op, threshold)

	case model.TriggerSignalDetection:
		var target []any
		if leaf != nil {
			target = leaf.List
		}
		var observed []string
		if matched != nil {
			observed = matched.Signals
		}
		detected := intersectSignals(target, observed)
		strength := "medium"
		if len(detected) > 1 {
			strength = "high"
		}
		data["detected_signals"] = detected
		data["target_signals"] = target
		data["signal_context"] = observed
		data["signal_strength"] = strength
		data["description"] = fmt.Sprintf("signals detected: %s", strings.Join(detected, ", "))

	case model.TriggerPatternMatch:
		data["description"] = fmt.Sprintf("pattern matched: %s", rule.Name)

	default:
		data["description"] = fmt.Sprintf("query matched: %s", rule.Name)
	}
	return data
}

// firstLeaf returns the first field predicate of the rule's condition tree in
// depth-first order, or nil.
func firstLeaf(raw json.RawMessage) *query.Condition {
	cond, err := query.Parse(raw)
	if err != nil || cond == nil {
		return nil
	}
	return descendLeaf(cond)
}

func descendLeaf(c *query.Condition) *query.Condition {
	if c.IsLeaf() {
		return c
	}
	for _, child := range c.Children {
		if leaf := descendLeaf(child); leaf != nil {
			return leaf
		}
	}
	return nil
}

// thresholdOf extracts the leaf's comparison value in presentable form.
func thresholdOf(leaf *query.Condition) any {
	switch leaf.Operator {
	case query.OpWithinLast:
		return leaf.Hours
	case query.OpBefore, query.OpAfter:
		return leaf.Instant.Format(time.RFC3339)
	}
	if leaf.List != nil {
		return leaf.List
	}
	return leaf.Scalar
}

// leafValue reads a dotted field's current value off the matched bar.
// Indicator paths walk the persisted document shape.
func leafValue(c *model.Candle, field string) any {
	if c == nil {
		return nil
	}
	switch field {
	case "open":
		return c.Open
	case "high":
		return c.High
	case "low":
		return c.Low
	case "close":
		return c.Close
	case "volume":
		return c.Volume
	case "timestamp":
		return c.OpenTime.UTC().Format(time.RFC3339)
	case "symbol":
		return c.Symbol
	case "timeframe":
		return c.Timeframe
	case "signals":
		return c.Signals
	}
	if c.Indicators == nil {
		return nil
	}
	doc, err := json.Marshal(c.Indicators)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil
	}
	cur := any(m)
	for _, part := range strings.Split(field, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[part]
	}
	return cur
}

func intersectSignals(target []any, observed []string) []string {
	have := make(map[string]bool, len(observed))
	for _, s := range observed {
		have[s] = true
	}
	var out []string
	for _, t := range target {
		if s, ok := t.(string); ok && have[s] {
			out = append(out, s)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
