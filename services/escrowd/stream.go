package escrowd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"bountyescrow/core/events"
	"bountyescrow/observability/metrics"
)

// StreamMessage is the websocket frame for one engine event.
type StreamMessage struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	ch chan StreamMessage
}

// Hub fans engine events out to websocket subscribers. The recorder holds the
// recent backlog replayed to new subscribers.
type Hub struct {
	mu       sync.Mutex
	recorder *events.Recorder
	next     uint64
	subs     map[*subscriber]struct{}
	buffer   int
	metrics  *metrics.AuditMetrics
}

func NewHub(backlog, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		recorder: events.NewRecorder(backlog),
		subs:     make(map[*subscriber]struct{}),
		buffer:   buffer,
		metrics:  metrics.Audit(),
	}
}

// Emit implements events.Emitter. Subscribers whose buffer is full miss the
// event.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	flat := events.Flatten(evt)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorder.Emit(evt)
	h.next++
	msg := StreamMessage{Seq: h.next, Type: flat.Type, Attributes: flat.Attributes}
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.metrics.IncDropped()
		}
	}
}

// subscribe registers a subscriber and returns the retained backlog newer
// than after together with the live channel.
func (h *Hub) subscribe(after uint64) ([]StreamMessage, *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recent := h.recorder.Events()
	first := h.next - uint64(len(recent)) + 1
	backlog := make([]StreamMessage, 0, len(recent))
	for i, evt := range recent {
		seq := first + uint64(i)
		if seq <= after {
			continue
		}
		flat := events.Flatten(evt)
		backlog = append(backlog, StreamMessage{Seq: seq, Type: flat.Type, Attributes: flat.Attributes})
	}
	sub := &subscriber{ch: make(chan StreamMessage, h.buffer)}
	h.subs[sub] = struct{}{}
	h.metrics.SubscriberJoined()
	return backlog, sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		h.metrics.SubscriberLeft()
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.stream(ctx, conn, after); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.logger.Debug("escrowd: stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, after uint64) error {
	backlog, sub := s.hub.subscribe(after)
	defer s.hub.unsubscribe(sub)
	for _, msg := range backlog {
		if err := writeStreamMessage(ctx, conn, msg, s.streamTimeout); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.ch:
			if err := writeStreamMessage(ctx, conn, msg, s.streamTimeout); err != nil {
				return err
			}
		}
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg StreamMessage, timeout time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
