package www

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wwcpsync/engine"
)

const keepaliveInterval = 30 * time.Second

type SSEEvent struct {
	Event string
	Data  string
}

// EventHub fans engine events out to the connected /events streams. Slow
// clients lose events instead of blocking the engine.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.send(evt)
		case <-keepalive.C:
			h.send(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) send(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventHub) Broadcast(event, data string) {
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: data}:
	default:
	}
}

// BroadcastJSON marshals v as the event data.
func (h *EventHub) BroadcastJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("sse: marshal event", "event", event, "error", err)
		return
	}
	h.Broadcast(event, string(data))
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		switch ev := evt.Payload.(type) {
		case engine.FlushStartedEvent:
			h.BroadcastJSON("flush-update", map[string]any{
				"adapter": ev.AdapterID, "cycle": ev.Started.Cycle, "run_id": ev.Started.RunID,
				"tracking_id": ev.Started.TrackingID, "state": "started",
			})
		case engine.FlushFinishedEvent:
			h.BroadcastJSON("flush-update", map[string]any{
				"adapter": ev.AdapterID, "cycle": ev.Finished.Cycle, "run_id": ev.Finished.RunID,
				"tracking_id": ev.Finished.TrackingID, "state": "completed", "runtime_ms": ev.Finished.Runtime.Milliseconds(),
			})
		case engine.AdapterExceptionEvent:
			h.BroadcastJSON("flush-update", map[string]any{
				"adapter": ev.AdapterID, "cycle": ev.Failure.Cycle, "run_id": ev.Failure.RunID,
				"tracking_id": ev.Failure.TrackingID, "state": "failed", "error": fmt.Sprint(ev.Failure.Err),
			})
		}
	}, engine.EventFlushStarted, engine.EventFlushFinished, engine.EventAdapterException)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.StatusChangedEvent)
		h.BroadcastJSON("status-update", map[string]any{
			"kind": ev.Kind.String(), "id": ev.ID, "status": ev.Status, "admin_status": ev.AdminStatus,
			"timestamp": ev.Timestamp, "tracking_id": ev.TrackingID,
		})
	}, engine.EventStatusChanged)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.EntityEvent)
		action := "registered"
		if evt.Type == engine.EventEntityRemoved {
			action = "removed"
		}
		h.BroadcastJSON("entity-update", map[string]any{
			"kind": ev.Kind.String(), "id": ev.ID, "action": action, "result": ev.Result,
		})
	}, engine.EventEntityRegistered, engine.EventEntityRemoved)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.PushAckEvent)
		h.BroadcastJSON("push-ack", map[string]any{
			"partner": ev.PartnerID, "kind": ev.Kind, "accepted": ev.Accepted, "rejected": len(ev.Rejected),
		})
	}, engine.EventPushAck)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.ConnectionEvent)
		state := "connected"
		if evt.Type == engine.EventPartnerDisconnected {
			state = "disconnected"
		}
		h.BroadcastJSON("system-status", map[string]string{"partner": ev.PartnerID, "state": state})
	}, engine.EventPartnerConnected, engine.EventPartnerDisconnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"messaging":"connected"}`)
	}, engine.EventMessagingConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", `{"messaging":"disconnected"}`)
	}, engine.EventMessagingDisconnected)
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.logger.Debug("sse: write error", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
