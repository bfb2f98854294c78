package model

import (
	"encoding/json"
	"time"
)

// TriggerType classifies what an alert rule watches.
type TriggerType string

const (
	TriggerPriceThreshold     TriggerType = "price_threshold"
	TriggerIndicatorThreshold TriggerType = "indicator_threshold"
	TriggerSignalDetection    TriggerType = "signal_detection"
	TriggerPatternMatch       TriggerType = "pattern_match"
	TriggerCustomQuery        TriggerType = "custom_query"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerPriceThreshold, TriggerIndicatorThreshold, TriggerSignalDetection,
		TriggerPatternMatch, TriggerCustomQuery:
		return true
	}
	return false
}

// Frequency bounds how often a rule may fire.
type Frequency string

const (
	FreqOnce      Frequency = "once"       // fires a single time, then stays silent
	FreqEveryTime Frequency = "every_time" // fires on every matching check
	FreqDaily     Frequency = "daily"      // at most once per 24h
	FreqHourly    Frequency = "hourly"     // at most once per hour
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqOnce, FreqEveryTime, FreqDaily, FreqHourly:
		return true
	}
	return false
}

// MessageType selects the Lark payload shape for notifications.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageCard MessageType = "interactive"
)

// Valid reports whether m is a known message type.
func (m MessageType) Valid() bool {
	return m == MessageText || m == MessageCard
}

// Rule is a persisted alert rule. TriggerConditions holds the raw predicate
// tree; the query package parses and validates it.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Symbol      string   `json:"symbol"`
	Timeframes  []string `json:"timeframes"`

	TriggerType       TriggerType     `json:"trigger_type"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`

	Frequency     Frequency   `json:"frequency"`
	WebhookURL    string      `json:"webhook_url,omitempty"`
	MessageType   MessageType `json:"message_type"`
	CustomMessage string      `json:"custom_message,omitempty"`

	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int        `json:"trigger_count"`
}

// TriggerRecord is one row of alert history: the outcome of a rule firing.
type TriggerRecord struct {
	RequestID       string         `json:"request_id"`
	RuleID          string         `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	Symbol          string         `json:"symbol"`
	Timeframe       string         `json:"timeframe"`
	TriggerTime     time.Time      `json:"trigger_time"`
	TriggerData     map[string]any `json:"trigger_data"`
	MessageSent     bool           `json:"message_sent"`
	WebhookResponse map[string]any `json:"webhook_response,omitempty"`
}

// AlertStats summarizes registry size and recent trigger activity.
type AlertStats struct {
	TotalRules        int       `json:"total_rules"`
	ActiveRules       int       `json:"active_rules"`
	TriggeredToday    int       `json:"triggered_today"`
	TriggeredThisHour int       `json:"triggered_this_hour"`
	SuccessRate       float64   `json:"success_rate"`
	LastCheckTime     time.Time `json:"last_check_time"`
}
