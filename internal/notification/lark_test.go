package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendTextPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	c := NewLarkClient()
	if err := c.SendText(context.Background(), srv.URL, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["msg_type"] != "text" {
		t.Errorf("msg_type = %v", got["msg_type"])
	}
	content, _ := got["content"].(map[string]any)
	if content["text"] != "hello" {
		t.Errorf("content = %v", got["content"])
	}
}

func TestSendCardShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	c := NewLarkClient()
	if err := c.SendCard(context.Background(), srv.URL, "Alert", []string{"**BTC** crossed 70k"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["msg_type"] != "interactive" {
		t.Errorf("msg_type = %v", got["msg_type"])
	}
	card, _ := got["card"].(map[string]any)
	if card == nil || card["header"] == nil {
		t.Fatalf("card = %v", got["card"])
	}
	elements, _ := card["elements"].([]any)
	if len(elements) != 1 {
		t.Errorf("elements = %v", card["elements"])
	}
}

func TestSendRejectedByBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":19001,"msg":"invalid receive_id"}`))
	}))
	defer srv.Close()

	c := NewLarkClient()
	if err := c.SendText(context.Background(), srv.URL, "hi"); err == nil {
		t.Fatal("bot rejection should surface as an error")
	}
}

func TestTestWebhookReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewLarkClient()
	result := c.TestWebhook(context.Background(), srv.URL)
	if result["success"] != false {
		t.Errorf("success = %v, want false", result["success"])
	}
	if result["error"] == nil {
		t.Error("missing error detail")
	}
}
