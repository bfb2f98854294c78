package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signal-systemv1/internal/model"
)

const ruleColumns = `id, name, description, symbol, timeframes, trigger_type, trigger_conditions,
	frequency, webhook_url, message_type, custom_message, is_active,
	created_at, updated_at, last_triggered_at, trigger_count`

// InsertRule persists a new alert rule.
func (s *Store) InsertRule(ctx context.Context, r *model.Rule) error {
	timeframes, err := json.Marshal(r.Timeframes)
	if err != nil {
		return fmt.Errorf("marshal timeframes: %w", err)
	}

	var lastTriggered any
	if r.LastTriggeredAt != nil {
		lastTriggered = r.LastTriggeredAt.UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Name, r.Description, r.Symbol, string(timeframes),
		string(r.TriggerType), string(r.TriggerConditions),
		string(r.Frequency), r.WebhookURL, string(r.MessageType), r.CustomMessage,
		boolToInt(r.IsActive),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), lastTriggered, r.TriggerCount,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert rule: %w", err)
	}
	return nil
}

// SaveRule rewrites every mutable column of an existing rule.
func (s *Store) SaveRule(ctx context.Context, r *model.Rule) error {
	timeframes, err := json.Marshal(r.Timeframes)
	if err != nil {
		return fmt.Errorf("marshal timeframes: %w", err)
	}

	var lastTriggered any
	if r.LastTriggeredAt != nil {
		lastTriggered = r.LastTriggeredAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			name = ?, description = ?, symbol = ?, timeframes = ?,
			trigger_type = ?, trigger_conditions = ?,
			frequency = ?, webhook_url = ?, message_type = ?, custom_message = ?,
			is_active = ?, updated_at = ?, last_triggered_at = ?, trigger_count = ?
		WHERE id = ?
	`,
		r.Name, r.Description, r.Symbol, string(timeframes),
		string(r.TriggerType), string(r.TriggerConditions),
		string(r.Frequency), r.WebhookURL, string(r.MessageType), r.CustomMessage,
		boolToInt(r.IsActive), r.UpdatedAt.UnixMilli(), lastTriggered, r.TriggerCount,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRule fetches one rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get rule: %w", err)
	}
	return r, nil
}

// DeleteRule removes one rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRules returns rules newest-first, optionally filtered to active rules
// or to a single symbol.
func (s *Store) ListRules(ctx context.Context, activeOnly bool, symbol string) ([]model.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE 1=1`
	var args []any
	if activeOnly {
		q += ` AND is_active = 1`
	}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// MarkRuleTriggered records a firing: bumps the trigger counter and stamps
// the trigger time. Runs regardless of delivery outcome.
func (s *Store) MarkRuleTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET last_triggered_at = ?, trigger_count = trigger_count + 1, updated_at = ?
		WHERE id = ?
	`, at.UnixMilli(), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("sqlite mark triggered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RuleCounts returns the total and active rule counts.
func (s *Store) RuleCounts(ctx context.Context) (total, active int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM alert_rules`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite rule counts: %w", err)
	}
	return total, active, nil
}

// InsertTrigger appends one row of alert history.
func (s *Store) InsertTrigger(ctx context.Context, rec model.TriggerRecord) error {
	var triggerData, webhookResp any
	if rec.TriggerData != nil {
		b, err := json.Marshal(rec.TriggerData)
		if err != nil {
			return fmt.Errorf("marshal trigger data: %w", err)
		}
		triggerData = string(b)
	}
	if rec.WebhookResponse != nil {
		b, err := json.Marshal(rec.WebhookResponse)
		if err != nil {
			return fmt.Errorf("marshal webhook response: %w", err)
		}
		webhookResp = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history
			(request_id, rule_id, rule_name, symbol, timeframe, trigger_time, trigger_data, message_sent, webhook_response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RequestID, rec.RuleID, rec.RuleName, rec.Symbol, rec.Timeframe,
		rec.TriggerTime.UnixMilli(), triggerData, boolToInt(rec.MessageSent), webhookResp,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert trigger: %w", err)
	}
	return nil
}

// RecentTriggers returns history rows newest-first, optionally for one rule.
func (s *Store) RecentTriggers(ctx context.Context, ruleID string, limit int) ([]model.TriggerRecord, error) {
	q := `
		SELECT request_id, rule_id, rule_name, symbol, timeframe, trigger_time, trigger_data, message_sent, webhook_response
		FROM alert_history`
	var args []any
	if ruleID != "" {
		q += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	q += ` ORDER BY trigger_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query history: %w", err)
	}
	defer rows.Close()

	var recs []model.TriggerRecord
	for rows.Next() {
		var (
			rec         model.TriggerRecord
			triggerMs   int64
			sent        int
			triggerData sql.NullString
			webhookResp sql.NullString
		)
		if err := rows.Scan(&rec.RequestID, &rec.RuleID, &rec.RuleName, &rec.Symbol, &rec.Timeframe,
			&triggerMs, &triggerData, &sent, &webhookResp); err != nil {
			return nil, fmt.Errorf("sqlite scan history: %w", err)
		}
		rec.TriggerTime = time.UnixMilli(triggerMs).UTC()
		rec.MessageSent = sent != 0
		if triggerData.Valid && triggerData.String != "" {
			if err := json.Unmarshal([]byte(triggerData.String), &rec.TriggerData); err != nil {
				return nil, fmt.Errorf("unmarshal trigger data: %w", err)
			}
		}
		if webhookResp.Valid && webhookResp.String != "" {
			if err := json.Unmarshal([]byte(webhookResp.String), &rec.WebhookResponse); err != nil {
				return nil, fmt.Errorf("unmarshal webhook response: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// TriggerCounts returns how many triggers fired since the cutoff and how many
// of those delivered successfully.
func (s *Store) TriggerCounts(ctx context.Context, since time.Time) (total, sent int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(message_sent), 0)
		FROM alert_history WHERE trigger_time >= ?
	`, since.UnixMilli()).Scan(&total, &sent)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite trigger counts: %w", err)
	}
	return total, sent, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var (
		r             model.Rule
		timeframes    string
		triggerType   string
		conditions    string
		frequency     string
		messageType   string
		isActive      int
		createdMs     int64
		updatedMs     int64
		lastTriggered sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Symbol, &timeframes,
		&triggerType, &conditions, &frequency, &r.WebhookURL, &messageType, &r.CustomMessage,
		&isActive, &createdMs, &updatedMs, &lastTriggered, &r.TriggerCount)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(timeframes), &r.Timeframes); err != nil {
		return nil, fmt.Errorf("unmarshal timeframes: %w", err)
	}
	r.TriggerType = model.TriggerType(triggerType)
	r.TriggerConditions = json.RawMessage(conditions)
	r.Frequency = model.Frequency(frequency)
	r.MessageType = model.MessageType(messageType)
	r.IsActive = isActive != 0
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	r.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if lastTriggered.Valid {
		t := time.UnixMilli(lastTriggered.Int64).UTC()
		r.LastTriggeredAt = &t
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
