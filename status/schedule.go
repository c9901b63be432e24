// Package status holds bounded, newest-first histories of timestamped status
// values. A Schedule is owned by a domain entity and notifies subscribers
// whenever its current value changes.
package status

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultMaxSize is the history bound used when a schedule is created with a
// non-positive size.
const DefaultMaxSize = 50

// ErrEmptySchedule is returned by Current for a schedule that was never seeded.
var ErrEmptySchedule = errors.New("status: schedule is empty")

// Timestamped is a status value together with the instant it became valid.
type Timestamped[S comparable] struct {
	Timestamp time.Time `json:"timestamp"`
	Value     S         `json:"value"`
}

// Change describes a transition of a schedule's current value. Old is the
// zero value when the schedule was empty before the insert.
type Change[S comparable] struct {
	Timestamp  time.Time
	TrackingID string
	Old        Timestamped[S]
	New        Timestamped[S]
}

// InsertMode selects how InsertMany combines a list with the existing history.
type InsertMode int

const (
	// Replace discards the existing history.
	Replace InsertMode = iota
	// InsertAhead merges the list into the existing history by time.
	InsertAhead
)

// SubscriberID identifies a callback registered with OnChange.
type SubscriberID int

type subscriber[S comparable] struct {
	id SubscriberID
	fn func(Change[S])
}

// Schedule is a bounded history of status values, newest first.
//
// Change callbacks run synchronously on the inserting goroutine, after the
// schedule's state lock is released and in the order the mutations happened.
// A callback may read the schedule but must not insert into it.
type Schedule[S comparable] struct {
	emitMu sync.Mutex
	mu     sync.RWMutex

	entries []Timestamped[S]
	max     int
	subs    []subscriber[S]
	nextID  SubscriberID
	now     func() time.Time
}

// New creates an empty schedule keeping at most maxSize entries.
func New[S comparable](maxSize int) *Schedule[S] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Schedule[S]{max: maxSize, now: time.Now}
}

// NewWithInitial creates a schedule seeded with initial at the current time.
func NewWithInitial[S comparable](maxSize int, initial S) *Schedule[S] {
	s := New[S](maxSize)
	s.entries = append(s.entries, Timestamped[S]{Timestamp: s.now(), Value: initial})
	return s
}

// Insert records value at the given instant (now when zero) and returns the
// resulting current entry. A value equal to the current one is ignored; an
// instant older than the current entry back-fills history without changing
// the current value.
func (s *Schedule[S]) Insert(value S, at time.Time, trackingID string) Timestamped[S] {
	return s.insert(value, at, trackingID, false)
}

// Touch is Insert that also records a repeat of the current value when at is
// strictly newer than the current entry. It never emits a change.
func (s *Schedule[S]) Touch(value S, at time.Time, trackingID string) Timestamped[S] {
	return s.insert(value, at, trackingID, true)
}

func (s *Schedule[S]) insert(value S, at time.Time, trackingID string, force bool) Timestamped[S] {
	if at.IsZero() {
		at = s.now()
	}
	entry := Timestamped[S]{Timestamp: at, Value: value}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var change *Change[S]
	switch {
	case len(s.entries) == 0:
		s.entries = append(s.entries, entry)
		change = &Change[S]{Timestamp: at, TrackingID: trackingID, New: entry}
	case at.Before(s.entries[0].Timestamp):
		s.backfill(entry)
	case value == s.entries[0].Value:
		if force && at.After(s.entries[0].Timestamp) {
			s.pushHead(entry)
		}
	default:
		old := s.entries[0]
		s.pushHead(entry)
		change = &Change[S]{Timestamp: at, TrackingID: trackingID, Old: old, New: entry}
	}
	head := s.entries[0]
	subs := s.subscribersLocked(change != nil)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(*change)
	}
	return head
}

// InsertMany installs a list of entries according to mode. Entries with a
// zero timestamp are stamped with the current time. An empty list leaves
// the schedule unchanged in either mode.
func (s *Schedule[S]) InsertMany(list []Timestamped[S], mode InsertMode, trackingID string) {
	if len(list) == 0 {
		return
	}
	incoming := make([]Timestamped[S], len(list))
	copy(incoming, list)
	now := s.now()
	for i := range incoming {
		if incoming[i].Timestamp.IsZero() {
			incoming[i].Timestamp = now
		}
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].Timestamp.After(incoming[j].Timestamp)
	})

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var old Timestamped[S]
	hadOld := len(s.entries) > 0
	if hadOld {
		old = s.entries[0]
	}
	switch mode {
	case InsertAhead:
		s.entries = mergeNewestFirst(incoming, s.entries)
	default:
		s.entries = incoming
	}
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}

	var change *Change[S]
	if len(s.entries) > 0 && (!hadOld || s.entries[0].Value != old.Value) {
		head := s.entries[0]
		change = &Change[S]{Timestamp: head.Timestamp, TrackingID: trackingID, Old: old, New: head}
	}
	subs := s.subscribersLocked(change != nil)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(*change)
	}
}

// Current returns the newest entry.
func (s *Schedule[S]) Current() (Timestamped[S], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Timestamped[S]{}, ErrEmptySchedule
	}
	return s.entries[0], nil
}

// Value returns the current value, or the zero value for an empty schedule.
func (s *Schedule[S]) Value() S {
	cur, _ := s.Current()
	return cur.Value
}

// Entries returns a copy of the history, newest first.
func (s *Schedule[S]) Entries() []Timestamped[S] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Timestamped[S], len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries held.
func (s *Schedule[S]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MaxSize returns the bound on the history length.
func (s *Schedule[S]) MaxSize() int { return s.max }

// OnChange registers fn to be called for every change of the current value.
func (s *Schedule[S]) OnChange(fn func(Change[S])) SubscriberID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs = append(s.subs, subscriber[S]{id: s.nextID, fn: fn})
	return s.nextID
}

// Unsubscribe removes a change callback.
func (s *Schedule[S]) Unsubscribe(id SubscriberID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Schedule[S]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entries())
}

func (s *Schedule[S]) subscribersLocked(changed bool) []subscriber[S] {
	if !changed || len(s.subs) == 0 {
		return nil
	}
	subs := make([]subscriber[S], len(s.subs))
	copy(subs, s.subs)
	return subs
}

func (s *Schedule[S]) pushHead(entry Timestamped[S]) {
	s.entries = append(s.entries, Timestamped[S]{})
	copy(s.entries[1:], s.entries)
	s.entries[0] = entry
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}
}

// backfill places entry after every entry that is not older than it.
func (s *Schedule[S]) backfill(entry Timestamped[S]) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp.Before(entry.Timestamp)
	})
	if i >= s.max {
		return
	}
	s.entries = append(s.entries, Timestamped[S]{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = entry
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}
}

// mergeNewestFirst merges two newest-first lists; on equal timestamps the
// entries of ahead come first.
func mergeNewestFirst[S comparable](ahead, rest []Timestamped[S]) []Timestamped[S] {
	out := make([]Timestamped[S], 0, len(ahead)+len(rest))
	i, j := 0, 0
	for i < len(ahead) && j < len(rest) {
		if rest[j].Timestamp.After(ahead[i].Timestamp) {
			out = append(out, rest[j])
			j++
			continue
		}
		out = append(out, ahead[i])
		i++
	}
	out = append(out, ahead[i:]...)
	return append(out, rest[j:]...)
}
