package domain

import "github.com/google/uuid"

// EventTrackingID correlates an operation with every result and telemetry
// event it produces.
type EventTrackingID string

func NewEventTrackingID() EventTrackingID {
	return EventTrackingID(uuid.NewString())
}

// OrNew returns id, or a fresh tracking id when id is empty.
func (id EventTrackingID) OrNew() EventTrackingID {
	if id == "" {
		return NewEventTrackingID()
	}
	return id
}
