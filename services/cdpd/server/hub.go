package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"cdpchain/core/events"
	"cdpchain/core/types"
	"cdpchain/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans engine events out to websocket subscribers. Subscribers that fall
// a full buffer behind are disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	types   map[string]bool
	updates chan *types.Event
	dropped chan struct{}
	once    sync.Once
}

func (s *subscriber) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.dropped) })
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(ev events.Event) {
	observability.Events().RecordEvent(ev.EventType())
	flat := events.Flatten(ev)
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(flat.Type) {
			continue
		}
		select {
		case sub.updates <- flat:
		default:
			delete(h.subs, sub)
			sub.drop()
			observability.Events().RecordDrop()
			h.logger.Warn("dropping slow event subscriber", slog.String("type", flat.Type))
		}
	}
	observability.Events().SetSubscribers(len(h.subs))
}

// subscribe registers a subscriber for the given event types; none means all.
func (h *Hub) subscribe(eventTypes []string) (*subscriber, func()) {
	sub := &subscriber{
		types:   make(map[string]bool, len(eventTypes)),
		updates: make(chan *types.Event, subscriberBuffer),
		dropped: make(chan struct{}),
	}
	for _, t := range eventTypes {
		if t = strings.TrimSpace(t); t != "" {
			sub.types[t] = true
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	observability.Events().SetSubscribers(len(h.subs))
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		observability.Events().SetSubscribers(len(h.subs))
		h.mu.Unlock()
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		filter = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub, cancel := s.hub.subscribe(filter)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub); err != nil {
		if websocket.CloseStatus(err) == -1 {
			_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.dropped:
			return errSlowSubscriber
		case ev := <-sub.updates:
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
