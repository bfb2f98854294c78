package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"signal-systemv1/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 256
	replayCapacity   = 500
	eventBuffer      = 1024
)

// Hub fans signal and trigger events out to websocket clients. Events arrive
// as raw JSON on the inbound channel (fed by the Redis pubsub bridge), get a
// monotonic sequence number, and land in a bounded replay ring so a new or
// reconnecting client can catch up on what it missed.
type Hub struct {
	upgrader websocket.Upgrader
	prom     *metrics.Metrics

	events chan []byte

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *replayRing
}

// NewHub creates a hub. prom may be nil.
func NewHub(prom *metrics.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		prom:    prom,
		events:  make(chan []byte, eventBuffer),
		clients: make(map[*Client]bool),
		replay:  newReplayRing(replayCapacity),
	}
}

// Events is the inbound side: the Redis bridge writes raw event JSON here.
func (h *Hub) Events() chan<- []byte { return h.events }

// Run broadcasts inbound events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// broadcast wraps the event in a sequenced envelope and fans it out. Slow
// clients drop messages rather than stall the hub; the sequence numbers let
// them notice the gap and replay.
func (h *Hub) broadcast(event []byte) {
	h.mu.Lock()
	h.seq++
	envelope, err := json.Marshal(map[string]any{
		"seq":   h.seq,
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": json.RawMessage(event),
	})
	if err != nil {
		h.mu.Unlock()
		log.Printf("[api_gateway] envelope marshal: %v", err)
		return
	}
	h.replay.push(h.seq, envelope)

	for client := range h.clients {
		select {
		case client.send <- envelope:
			if h.prom != nil {
				h.prom.WSMessagesOut.Inc()
			}
		default:
		}
	}
	h.mu.Unlock()
}

// HandleWS upgrades the connection and registers the client. A ?since_seq=N
// query replays buffered envelopes after N before live traffic starts.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api_gateway] ws upgrade: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
	}

	var sinceSeq int64
	if s := r.URL.Query().Get("since_seq"); s != "" {
		sinceSeq = parseSeq(s)
	}

	h.mu.Lock()
	for _, envelope := range h.replay.since(sinceSeq) {
		select {
		case client.send <- envelope:
		default:
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
	log.Printf("[api_gateway] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// removeClient drops a disconnected client.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func parseSeq(s string) int64 {
	var n int64
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int64(ch-'0')
	}
	return n
}

// replayRing is a fixed-size circular buffer of sequenced envelopes. Callers
// synchronize through the hub lock.
type replayRing struct {
	buf  []replayEntry
	pos  int
	full bool
}

type replayEntry struct {
	seq  int64
	data []byte
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &replayRing{buf: make([]replayEntry, capacity)}
}

func (rb *replayRing) push(seq int64, data []byte) {
	rb.buf[rb.pos] = replayEntry{seq: seq, data: data}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// since returns buffered envelopes with seq strictly greater than afterSeq,
// oldest first.
func (rb *replayRing) since(afterSeq int64) [][]byte {
	count := rb.pos
	if rb.full {
		count = len(rb.buf)
	}
	var out [][]byte
	for i := 0; i < count; i++ {
		idx := i
		if rb.full {
			idx = (rb.pos + i) % len(rb.buf)
		}
		if e := rb.buf[idx]; e.seq > afterSeq {
			out = append(out, e.data)
		}
	}
	return out
}
