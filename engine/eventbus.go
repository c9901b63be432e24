package engine

import (
	"log/slog"
	"sync"
	"time"
)

type EventType int

type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type subscriber struct {
	id     SubscriberID
	fn     func(Event)
	filter map[EventType]struct{}
}

// EventBus delivers events synchronously to subscribers in subscription
// order. A panicking subscriber is logged and does not stop delivery.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      SubscriberID
	logger      *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(subscriber{fn: fn})
}

// SubscribeTypes registers fn for the listed event types only.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(subscriber{fn: fn, filter: filter})
}

func (eb *EventBus) add(s subscriber) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	s.id = eb.nextID
	eb.subscribers = append(eb.subscribers, s)
	return s.id
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	subs := append([]subscriber(nil), eb.subscribers...)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil {
			if _, ok := s.filter[evt.Type]; !ok {
				continue
			}
		}
		eb.deliver(s, evt)
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("engine: event subscriber panicked", "subscriber", s.id, "event", evt.Type, "panic", r)
		}
	}()
	s.fn(evt)
}
