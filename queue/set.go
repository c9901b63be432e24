package queue

import "sync"

// Lane is where a status update was queued.
type Lane int

const (
	LaneFast Lane = iota
	LaneDelayed
	LaneDropped
)

func (l Lane) String() string {
	switch l {
	case LaneFast:
		return "fast"
	case LaneDelayed:
		return "delayed"
	default:
		return "dropped"
	}
}

// Counts is a point-in-time size report of a Set.
type Counts struct {
	ToAdd         int `json:"to_add"`
	ToUpdate      int `json:"to_update"`
	ToRemove      int `json:"to_remove"`
	FastStatus    int `json:"fast_status"`
	DelayedStatus int `json:"delayed_status"`
	Properties    int `json:"properties"`
}

func (c Counts) Data() int { return c.ToAdd + c.ToUpdate + c.ToRemove + c.DelayedStatus }

// Set is the pending-mutation family of one entity kind: its entities, both
// status axes and its property log, guarded by one mutex. Every method does
// O(1) work under the lock apart from the drains.
type Set[T Keyed, S, A comparable] struct {
	mu       sync.Mutex
	entities *Entities[T]
	status   StatusLists[S]
	admin    StatusLists[A]
	props    PropertyLog
}

func NewSet[T Keyed, S, A comparable]() *Set[T, S, A] {
	return &Set[T, S, A]{entities: NewEntities[T]()}
}

func (s *Set[T, S, A]) Add(v T) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Add(v)
}

// AddIfAbsent queues v for addition unless the partner already knows it or
// it is already pending. The bool reports whether v was queued.
func (s *Set[T, S, A]) AddIfAbsent(v T) (Membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.Key()
	if m := s.entities.Membership(key); m != None {
		return m, false
	}
	if s.entities.Known(key) {
		return None, false
	}
	return s.entities.Add(v), true
}

// Upsert queues an update for a known entity and an add otherwise.
func (s *Set[T, S, A]) Upsert(v T) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities.Known(v.Key()) {
		return s.entities.Update(v)
	}
	return s.entities.Add(v)
}

// Update queues v for update and records its property changes.
func (s *Set[T, S, A]) Update(v T, changes ...PropertyChange) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.entities.Update(v)
	if m != ToRemove {
		for _, c := range changes {
			s.props.Record(v.Key(), c)
		}
	}
	return m
}

func (s *Set[T, S, A]) Remove(v T) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props.Forget(v.Key())
	return s.entities.Remove(v)
}

func (s *Set[T, S, A]) Membership(key string) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Membership(key)
}

func (s *Set[T, S, A]) Known(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Known(key)
}

func (s *Set[T, S, A]) MarkKnown(key string, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities.MarkKnown(key, known)
}

// Tracked reports whether key is known to the partner or pending.
func (s *Set[T, S, A]) Tracked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Known(key) || s.entities.Membership(key) != None
}

func (s *Set[T, S, A]) Mark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Mark()
}

// Settle records a direct push of key accepted by the partner: mutations
// queued up to mark are dropped along with their property changes, and
// known tells whether the partner now holds the entity.
func (s *Set[T, S, A]) Settle(key string, mark uint64, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities.Settle(key, mark) && s.entities.Membership(key) == None {
		s.props.Forget(key)
	}
	s.entities.MarkKnown(key, known)
}

// lane picks the lane for an entity key: entities still waiting to be added
// get their status after the data, pending removals drop it.
func (s *Set[T, S, A]) lane(key string) Lane {
	switch s.entities.Membership(key) {
	case ToAdd:
		return LaneDelayed
	case ToRemove:
		return LaneDropped
	}
	return LaneFast
}

func (s *Set[T, S, A]) EnqueueStatus(u StatusUpdate[S]) Lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lane(u.Key())
	switch l {
	case LaneFast:
		s.status.EnqueueFast(u)
	case LaneDelayed:
		s.status.EnqueueDelayed(u)
	}
	return l
}

func (s *Set[T, S, A]) EnqueueAdminStatus(u StatusUpdate[A]) Lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lane(u.Key())
	switch l {
	case LaneFast:
		s.admin.EnqueueFast(u)
	case LaneDelayed:
		s.admin.EnqueueDelayed(u)
	}
	return l
}

// DrainData atomically takes the pending entities, their property changes
// and the delayed status lanes.
func (s *Set[T, S, A]) DrainData() (Pending[T], StatusBatch[S, A]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entities.Drain()
	p.Properties = s.props.Drain()
	return p, StatusBatch[S, A]{Status: s.status.DrainDelayed(), Admin: s.admin.DrainDelayed()}
}

// DrainFast atomically takes the fast status lanes.
func (s *Set[T, S, A]) DrainFast() StatusBatch[S, A] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusBatch[S, A]{Status: s.status.DrainFast(), Admin: s.admin.DrainFast()}
}

func (s *Set[T, S, A]) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	c.ToAdd, c.ToUpdate, c.ToRemove = s.entities.Len()
	sf, sd := s.status.Len()
	af, ad := s.admin.Len()
	c.FastStatus = sf + af
	c.DelayedStatus = sd + ad
	c.Properties = s.props.Len()
	return c
}
