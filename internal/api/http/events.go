package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Event is one change-feed entry broadcast to every /api/events subscriber
// (spec §6.2's optional change feed). Kind is one of "stored", "deleted",
// "updated". ID is a fresh UUID per event, echoed as the SSE frame's "id:"
// field so a reconnecting client's Last-Event-ID is at least a stable
// opaque token (the feed itself is not replayable — there is no backlog to
// resume from).
type Event struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ContentHash string `json:"content_hash"`
	Timestamp   string `json:"timestamp"`
}

// newEvent builds an Event for kind and contentHash with a fresh UUID as its
// ID; the caller sets Timestamp.
func newEvent(kind, contentHash string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, ContentHash: contentHash}
}

// subscriber is anything the hub can hand an encoded event to; both the SSE
// writer and the websocket client implement it, the way the teacher's
// clientInterface lets a real Client and a MockClient share one Run loop.
type subscriber interface {
	send(data []byte) bool
	close()
}

// EventHub fans out Event broadcasts to every connected subscriber,
// generalizing the teacher's WebSocketHub register/unregister/broadcast
// loop to feed both an SSE endpoint (the spec's primary wire contract) and
// an optional raw websocket endpoint off the same channel.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[subscriber]bool
	broadcast   chan Event
	register    chan subscriber
	unregister  chan subscriber
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventHub builds a hub that is not yet running; call Run in a goroutine.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		subscribers: make(map[subscriber]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan subscriber),
		unregister:  make(chan subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run processes register/unregister/broadcast until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
			}
			h.mu.Unlock()

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				log.Printf("memengine-http: failed to marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for s := range h.subscribers {
				if !s.send(data) {
					delete(h.subscribers, s)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every subscriber.
func (h *EventHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for s := range h.subscribers {
		s.close()
	}
	h.subscribers = make(map[subscriber]bool)
	h.mu.Unlock()
}

// Broadcast publishes evt to every subscriber; it never blocks the caller.
func (h *EventHub) Broadcast(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		log.Println("memengine-http: event broadcast channel full, dropping event")
	}
}

// sseSubscriber streams events to one GET /api/events connection.
type sseSubscriber struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

func (s *sseSubscriber) send(data []byte) bool {
	var evt Event
	id := ""
	if err := json.Unmarshal(data, &evt); err == nil {
		id = evt.ID
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}

func (s *sseSubscriber) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// ServeSSE handles GET /api/events: it registers a subscriber, streams a
// heartbeat comment every heartbeat interval so idle connections aren't
// reaped by intermediaries, and unregisters on client disconnect.
func (h *EventHub) ServeSSE(heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := &sseSubscriber{w: w, flusher: flusher, done: make(chan struct{})}
		h.register <- sub
		defer func() { h.unregister <- sub }()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.done:
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// wsSubscriber streams events to one GET /api/events/ws connection, the
// websocket-based alternative to SSE kept for clients that prefer a
// persistent socket over an event-stream response.
type wsSubscriber struct {
	conn *websocket.Conn
}

func (s *wsSubscriber) send(data []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data) == nil
}

func (s *wsSubscriber) close() {
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
}

// ServeWS upgrades GET /api/events/ws to a websocket and registers it with
// the same hub that feeds SSE subscribers.
func (h *EventHub) ServeWS(allowedOrigins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: allowedOrigins})
		if err != nil {
			log.Printf("memengine-http: websocket upgrade failed: %v", err)
			return
		}
		sub := &wsSubscriber{conn: conn}
		h.register <- sub

		// Drain inbound frames only to detect disconnects; the feed is
		// one-directional from the coordinator's point of view.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				h.unregister <- sub
				return
			}
		}
	}
}
