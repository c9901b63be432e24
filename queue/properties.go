package queue

import "time"

// PropertyChange records one changed property of an entity.
type PropertyChange struct {
	Timestamp  time.Time `json:"timestamp"`
	Name       string    `json:"name"`
	Old        any       `json:"old,omitempty"`
	New        any       `json:"new,omitempty"`
	DataSource string    `json:"data_source,omitempty"`
}

// PropertyLog collects property changes per entity key in arrival order.
type PropertyLog struct {
	changes map[string][]PropertyChange
}

func (l *PropertyLog) Record(key string, c PropertyChange) {
	if l.changes == nil {
		l.changes = make(map[string][]PropertyChange)
	}
	l.changes[key] = append(l.changes[key], c)
}

func (l *PropertyLog) Forget(key string) {
	delete(l.changes, key)
}

func (l *PropertyLog) Len() int {
	n := 0
	for _, cs := range l.changes {
		n += len(cs)
	}
	return n
}

func (l *PropertyLog) Drain() map[string][]PropertyChange {
	out := l.changes
	l.changes = nil
	return out
}
