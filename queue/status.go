package queue

import (
	"time"

	"wwcpsync/domain"
	"wwcpsync/status"
)

// StatusUpdate is one observed status transition of an entity.
type StatusUpdate[S comparable] struct {
	EntityID   string                 `json:"entity_id"`
	Old        status.Timestamped[S]  `json:"old"`
	New        status.Timestamped[S]  `json:"new"`
	TrackingID domain.EventTrackingID `json:"tracking_id,omitempty"`
}

// NewStatusUpdate builds an update from a schedule change.
func NewStatusUpdate[S comparable](entityID string, c status.Change[S]) StatusUpdate[S] {
	return StatusUpdate[S]{
		EntityID:   entityID,
		Old:        c.Old,
		New:        c.New,
		TrackingID: domain.EventTrackingID(c.TrackingID),
	}
}

func (u StatusUpdate[S]) Key() string          { return domain.NormalizeKey(u.EntityID) }
func (u StatusUpdate[S]) Timestamp() time.Time { return u.New.Timestamp }

// StatusLists holds the fast and delayed lanes of one status axis.
type StatusLists[S comparable] struct {
	fast    []StatusUpdate[S]
	delayed []StatusUpdate[S]
}

func (l *StatusLists[S]) EnqueueFast(u StatusUpdate[S])    { l.fast = append(l.fast, u) }
func (l *StatusLists[S]) EnqueueDelayed(u StatusUpdate[S]) { l.delayed = append(l.delayed, u) }

func (l *StatusLists[S]) DrainFast() []StatusUpdate[S] {
	out := l.fast
	l.fast = nil
	return out
}

func (l *StatusLists[S]) DrainDelayed() []StatusUpdate[S] {
	out := l.delayed
	l.delayed = nil
	return out
}

func (l *StatusLists[S]) Len() (fast, delayed int) {
	return len(l.fast), len(l.delayed)
}

// StatusBatch carries drained updates of both status axes of one kind.
type StatusBatch[S, A comparable] struct {
	Status     []StatusUpdate[S]
	Admin      []StatusUpdate[A]
	TrackingID domain.EventTrackingID
}

func (b StatusBatch[S, A]) Len() int    { return len(b.Status) + len(b.Admin) }
func (b StatusBatch[S, A]) Empty() bool { return b.Len() == 0 }
