// Package alert implements the alerting side of the system: the rule
// registry, the periodic evaluator that runs rule predicates against fresh
// data, and the dispatcher that posts trigger envelopes to the webhook
// receiver and records the outcome.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/sqlite"

	"github.com/google/uuid"
)

// Registry manages alert rule CRUD and registry-level statistics.
type Registry struct {
	store *sqlite.Store
	now   func() time.Time
}

// NewRegistry creates a registry over the rule store.
func NewRegistry(store *sqlite.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// ruleInput is the caller-writable subset of a rule. Create and update both
// decode into it with unknown fields rejected, so a typoed key fails loudly
// instead of silently dropping a constraint.
type ruleInput struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Symbol            string            `json:"symbol"`
	Timeframes        []string          `json:"timeframes"`
	TriggerType       model.TriggerType `json:"trigger_type"`
	TriggerConditions json.RawMessage   `json:"trigger_conditions"`
	Frequency         model.Frequency   `json:"frequency"`
	WebhookURL        string            `json:"webhook_url"`
	MessageType       model.MessageType `json:"message_type"`
	CustomMessage     string            `json:"custom_message"`
	IsActive          *bool             `json:"is_active"`

	// RequestID is part of the request envelope, not the rule. Accepted so
	// clients that echo it in the body are not rejected; otherwise unused.
	RequestID string `json:"request_id"`
}

func decodeRuleInput(raw []byte) (*ruleInput, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var in ruleInput
	if err := dec.Decode(&in); err != nil {
		return nil, query.Validationf("malformed rule: %v", err)
	}
	return &in, nil
}

// CreateRule validates the definition, assigns an id and timestamps, and
// persists the rule. New rules default to active, every_time, text messages.
func (r *Registry) CreateRule(ctx context.Context, raw []byte) (*model.Rule, error) {
	in, err := decodeRuleInput(raw)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	rule := &model.Rule{
		ID:                uuid.New().String(),
		Name:              in.Name,
		Description:       in.Description,
		Symbol:            in.Symbol,
		Timeframes:        in.Timeframes,
		TriggerType:       in.TriggerType,
		TriggerConditions: in.TriggerConditions,
		Frequency:         in.Frequency,
		WebhookURL:        in.WebhookURL,
		MessageType:       in.MessageType,
		CustomMessage:     in.CustomMessage,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if rule.Frequency == "" {
		rule.Frequency = model.FreqEveryTime
	}
	if rule.MessageType == "" {
		rule.MessageType = model.MessageText
	}

	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := r.store.InsertRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule applies a partial update to an existing rule. Returns
// sqlite.ErrNotFound when the rule does not exist.
func (r *Registry) UpdateRule(ctx context.Context, id string, raw []byte) (*model.Rule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := decodeRuleInput(raw)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		rule.Name = in.Name
	}
	if in.Description != "" {
		rule.Description = in.Description
	}
	if in.Symbol != "" {
		rule.Symbol = in.Symbol
	}
	if in.Timeframes != nil {
		rule.Timeframes = in.Timeframes
	}
	if in.TriggerType != "" {
		rule.TriggerType = in.TriggerType
	}
	if in.TriggerConditions != nil {
		rule.TriggerConditions = in.TriggerConditions
	}
	if in.Frequency != "" {
		rule.Frequency = in.Frequency
	}
	if in.WebhookURL != "" {
		rule.WebhookURL = in.WebhookURL
	}
	if in.MessageType != "" {
		rule.MessageType = in.MessageType
	}
	if in.CustomMessage != "" {
		rule.CustomMessage = in.CustomMessage
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	rule.UpdatedAt = r.now().UTC()

	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := r.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRule returns one rule or sqlite.ErrNotFound.
func (r *Registry) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return r.store.GetRule(ctx, id)
}

// DeleteRule removes one rule or returns sqlite.ErrNotFound.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	return r.store.DeleteRule(ctx, id)
}

// ListRules returns rules newest-first, optionally filtered, capped at limit
// when limit > 0.
func (r *Registry) ListRules(ctx context.Context, activeOnly bool, symbol string, limit int) ([]model.Rule, error) {
	rules, err := r.store.ListRules(ctx, activeOnly, symbol)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	return rules, nil
}

// Stats summarizes the registry and today's trigger activity. Day and hour
// boundaries are UTC; success rate is sent/total over today's triggers.
func (r *Registry) Stats(ctx context.Context) (*model.AlertStats, error) {
	now := r.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	topOfHour := now.Truncate(time.Hour)

	total, active, err := r.store.RuleCounts(ctx)
	if err != nil {
		return nil, err
	}
	todayTotal, todaySent, err := r.store.TriggerCounts(ctx, midnight)
	if err != nil {
		return nil, err
	}
	hourTotal, _, err := r.store.TriggerCounts(ctx, topOfHour)
	if err != nil {
		return nil, err
	}

	stats := &model.AlertStats{
		TotalRules:        total,
		ActiveRules:       active,
		TriggeredToday:    todayTotal,
		TriggeredThisHour: hourTotal,
		LastCheckTime:     now,
	}
	if todayTotal > 0 {
		stats.SuccessRate = float64(todaySent) / float64(todayTotal) * 100
	}
	return stats, nil
}

func validateRule(rule *model.Rule) error {
	if rule.Name == "" {
		return query.Validationf("rule name is required")
	}
	if rule.Symbol == "" {
		return query.Validationf("rule symbol is required")
	}
	if len(rule.Timeframes) == 0 {
		return query.Validationf("rule needs at least one timeframe")
	}
	for _, tf := range rule.Timeframes {
		if !model.ValidTimeframe(tf) {
			return query.Validationf("unknown timeframe %q", tf)
		}
	}
	if !rule.TriggerType.Valid() {
		return query.Validationf("unknown trigger type %q", rule.TriggerType)
	}
	if !rule.Frequency.Valid() {
		return query.Validationf("unknown frequency %q", rule.Frequency)
	}
	if !rule.MessageType.Valid() {
		return query.Validationf("unknown message type %q", rule.MessageType)
	}
	if rule.WebhookURL == "" {
		return query.Validationf("rule webhook_url is required")
	}
	if len(rule.TriggerConditions) == 0 {
		return query.Validationf("rule trigger_conditions are required")
	}
	if _, err := query.Parse(rule.TriggerConditions); err != nil {
		return err
	}
	return nil
}
