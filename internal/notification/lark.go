package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// LarkClient posts messages to Lark group webhook bots. One client serves any
// number of webhook URLs; rules carry their own target.
type LarkClient struct {
	client *http.Client
}

// NewLarkClient creates a Lark webhook client with the standard 10s timeout.
func NewLarkClient() *LarkClient {
	return &LarkClient{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// larkResponse is the bot's acknowledgment; code 0 means accepted.
type larkResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SendText posts a plain text message.
func (l *LarkClient) SendText(ctx context.Context, webhookURL, text string) error {
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]any{"text": text},
	}
	return l.post(ctx, webhookURL, payload)
}

// SendCard posts an interactive card with a colored header and markdown body
// lines rendered as separate elements.
func (l *LarkClient) SendCard(ctx context.Context, webhookURL, title string, lines []string) error {
	elements := make([]any, 0, len(lines))
	for _, line := range lines {
		elements = append(elements, map[string]any{
			"tag":  "div",
			"text": map[string]any{"tag": "lark_md", "content": line},
		})
	}
	payload := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title":    map[string]any{"tag": "plain_text", "content": title},
				"template": "red",
			},
			"elements": elements,
		},
	}
	return l.post(ctx, webhookURL, payload)
}

// TestWebhook fires a throwaway text message at the URL and reports the
// outcome as a document suitable for an API response.
func (l *LarkClient) TestWebhook(ctx context.Context, webhookURL string) map[string]any {
	now := time.Now().UTC()
	err := l.SendText(ctx, webhookURL,
		fmt.Sprintf("webhook connectivity test at %s", now.Format(time.RFC3339)))
	result := map[string]any{
		"success":   err == nil,
		"tested_at": now.Format(time.RFC3339),
	}
	if err != nil {
		result["error"] = err.Error()
	}
	return result
}

func (l *LarkClient) post(ctx context.Context, webhookURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lark: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("lark: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("lark: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lark: unexpected status %d", resp.StatusCode)
	}

	var ack larkResponse
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(data) > 0 {
		if json.Unmarshal(data, &ack) == nil && ack.Code != 0 {
			return fmt.Errorf("lark: rejected with code %d: %s", ack.Code, ack.Msg)
		}
	}
	return nil
}

// LarkNotifier adapts one webhook URL to the Notifier interface.
type LarkNotifier struct {
	client *LarkClient
	url    string
}

// NewLarkNotifier creates a notifier bound to a single group webhook.
func NewLarkNotifier(url string) *LarkNotifier {
	return &LarkNotifier{client: NewLarkClient(), url: url}
}

func (n *LarkNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("[%s] %s\n%s", alert.Level, alert.Title, alert.Message)
	if err := n.client.SendText(ctx, n.url, text); err != nil {
		return err
	}
	log.Printf("[lark] sent alert: %s", alert.Title)
	return nil
}
