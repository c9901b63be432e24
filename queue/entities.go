// Package queue holds pending mutations between two flushes to a roaming
// partner. Entities, StatusLists and PropertyLog are not synchronized; Set
// guards one entity kind's family of them with a single mutex.
package queue

import (
	"sort"

	"wwcpsync/domain"
)

// Membership tells which pending set an entity key belongs to.
type Membership int

const (
	None Membership = iota
	ToAdd
	ToUpdate
	ToRemove
)

func (m Membership) String() string {
	switch m {
	case ToAdd:
		return "to-add"
	case ToUpdate:
		return "to-update"
	case ToRemove:
		return "to-remove"
	default:
		return "none"
	}
}

// Keyed is implemented by queued values; the key is case-normalized.
type Keyed interface {
	Key() string
}

// Pending is the drained content of an Entities queue, in submission order.
// TrackingID identifies the flush or operation that carries it.
type Pending[T any] struct {
	Add        []T
	Update     []T
	Remove     []T
	Properties map[string][]PropertyChange
	TrackingID domain.EventTrackingID
}

func (p Pending[T]) Len() int    { return len(p.Add) + len(p.Update) + len(p.Remove) }
func (p Pending[T]) Empty() bool { return p.Len() == 0 }

// entry keeps the submission order in seq and the last write in touched.
type entry[T any] struct {
	seq     uint64
	touched uint64
	value   T
}

// Entities tracks disjoint to-add, to-update and to-remove sets for one
// entity kind, plus the keys the partner is believed to know.
type Entities[T Keyed] struct {
	toAdd    map[string]entry[T]
	toUpdate map[string]entry[T]
	toRemove map[string]entry[T]
	known    map[string]struct{}
	seq      uint64
}

func NewEntities[T Keyed]() *Entities[T] {
	return &Entities[T]{
		toAdd:    make(map[string]entry[T]),
		toUpdate: make(map[string]entry[T]),
		toRemove: make(map[string]entry[T]),
		known:    make(map[string]struct{}),
	}
}

func (e *Entities[T]) Membership(key string) Membership {
	switch {
	case e.has(e.toAdd, key):
		return ToAdd
	case e.has(e.toUpdate, key):
		return ToUpdate
	case e.has(e.toRemove, key):
		return ToRemove
	}
	return None
}

func (e *Entities[T]) has(m map[string]entry[T], key string) bool {
	_, ok := m[key]
	return ok
}

func (e *Entities[T]) next(v T) entry[T] {
	e.seq++
	return entry[T]{seq: e.seq, touched: e.seq, value: v}
}

// replace keeps old's place in the submission order.
func (e *Entities[T]) replace(old entry[T], v T) entry[T] {
	e.seq++
	return entry[T]{seq: old.seq, touched: e.seq, value: v}
}

// Add queues v for addition. Re-adding a pending removal turns it into an
// update.
func (e *Entities[T]) Add(v T) Membership {
	key := v.Key()
	switch e.Membership(key) {
	case ToAdd:
		e.toAdd[key] = e.replace(e.toAdd[key], v)
		return ToAdd
	case ToUpdate:
		e.toUpdate[key] = e.replace(e.toUpdate[key], v)
		return ToUpdate
	case ToRemove:
		delete(e.toRemove, key)
		e.toUpdate[key] = e.next(v)
		return ToUpdate
	}
	e.toAdd[key] = e.next(v)
	return ToAdd
}

// Update queues v for update. An update of a pending add collapses into the
// add; an update of a pending removal is ignored.
func (e *Entities[T]) Update(v T) Membership {
	key := v.Key()
	switch e.Membership(key) {
	case ToAdd:
		e.toAdd[key] = e.replace(e.toAdd[key], v)
		return ToAdd
	case ToUpdate:
		e.toUpdate[key] = e.replace(e.toUpdate[key], v)
		return ToUpdate
	case ToRemove:
		return ToRemove
	}
	e.toUpdate[key] = e.next(v)
	return ToUpdate
}

// Remove queues v for removal. Removing a pending add of an entity the
// partner does not know cancels the add.
func (e *Entities[T]) Remove(v T) Membership {
	key := v.Key()
	switch e.Membership(key) {
	case ToAdd:
		delete(e.toAdd, key)
		if !e.Known(key) {
			return None
		}
	case ToUpdate:
		delete(e.toUpdate, key)
	case ToRemove:
		return ToRemove
	}
	e.toRemove[key] = e.next(v)
	return ToRemove
}

func (e *Entities[T]) Known(key string) bool {
	_, ok := e.known[key]
	return ok
}

func (e *Entities[T]) MarkKnown(key string, known bool) {
	if known {
		e.known[key] = struct{}{}
		return
	}
	delete(e.known, key)
}

// Mark returns a position in the write history for a later Settle.
func (e *Entities[T]) Mark() uint64 { return e.seq }

// Settle drops the pending mutations of key written at or before mark.
// Later writes stay queued. It reports whether anything was dropped.
func (e *Entities[T]) Settle(key string, mark uint64) bool {
	dropped := false
	for _, m := range []map[string]entry[T]{e.toAdd, e.toUpdate, e.toRemove} {
		if en, ok := m[key]; ok && en.touched <= mark {
			delete(m, key)
			dropped = true
		}
	}
	return dropped
}

func (e *Entities[T]) Len() (add, update, remove int) {
	return len(e.toAdd), len(e.toUpdate), len(e.toRemove)
}

// Drain empties all three sets. The known set is left alone: the caller
// marks entities known once the partner has accepted them.
func (e *Entities[T]) Drain() Pending[T] {
	p := Pending[T]{
		Add:    ordered(e.toAdd),
		Update: ordered(e.toUpdate),
		Remove: ordered(e.toRemove),
	}
	e.toAdd = make(map[string]entry[T])
	e.toUpdate = make(map[string]entry[T])
	e.toRemove = make(map[string]entry[T])
	return p
}

func ordered[T any](m map[string]entry[T]) []T {
	if len(m) == 0 {
		return nil
	}
	entries := make([]entry[T], 0, len(m))
	for _, en := range m {
		entries = append(entries, en)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]T, len(entries))
	for i, en := range entries {
		out[i] = en.value
	}
	return out
}
