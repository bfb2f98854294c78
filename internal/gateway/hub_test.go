package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Frames may coalesce several newline-separated envelopes; take the first.
	if i := strings.IndexByte(string(msg), '\n'); i >= 0 {
		msg = msg[:i]
	}
	var doc map[string]any
	if err := json.Unmarshal(msg, &doc); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	return doc
}

func TestHubBroadcastsSequencedEnvelopes(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "/ws")
	waitForClients(t, hub, 1)

	hub.Events() <- []byte(`{"type":"signal","symbol":"BTC"}`)

	doc := readEnvelope(t, conn)
	if doc["seq"].(float64) != 1 {
		t.Errorf("seq = %v, want 1", doc["seq"])
	}
	event := doc["event"].(map[string]any)
	if event["type"] != "signal" || event["symbol"] != "BTC" {
		t.Errorf("event = %v", event)
	}
}

func TestHubReplaySinceSeq(t *testing.T) {
	hub := NewHub(nil)

	for i := 1; i <= 3; i++ {
		hub.broadcast([]byte(fmt.Sprintf(`{"n":%d}`, i)))
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "/ws?since_seq=1")

	got := []float64{}
	for len(got) < 2 {
		doc := readEnvelope(t, conn)
		got = append(got, doc["seq"].(float64))
	}
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("replayed seqs = %v, want [2 3]", got)
	}
}

func TestHubPingProbe(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "/ws")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":42}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	doc := readEnvelope(t, conn)
	if doc["type"] != "pong" || doc["ping"].(float64) != 42 {
		t.Errorf("pong = %v", doc)
	}
	if doc["server_ts"].(float64) == 0 {
		t.Error("pong missing server_ts")
	}
}

func TestReplayRingWrapsAround(t *testing.T) {
	rb := newReplayRing(3)
	for i := int64(1); i <= 5; i++ {
		rb.push(i, []byte{byte(i)})
	}

	all := rb.since(0)
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3 after wrap", len(all))
	}
	if all[0][0] != 3 || all[2][0] != 5 {
		t.Errorf("kept entries = %v, want oldest-first 3..5", all)
	}
	if got := rb.since(4); len(got) != 1 || got[0][0] != 5 {
		t.Errorf("since(4) = %v", got)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
