package protocol

import (
	"encoding/json"
	"time"

	"wwcpsync/domain"
	"wwcpsync/queue"
)

// --- Sync -> partner ---

// DataPush carries one entity kind's pending adds, updates and removals.
// Entities are JSON-encoded as the partner sees them.
type DataPush struct {
	Kind       string                            `json:"kind"`
	TrackingID string                            `json:"tracking_id"`
	Add        []json.RawMessage                 `json:"add,omitempty"`
	Update     []json.RawMessage                 `json:"update,omitempty"`
	Remove     []string                          `json:"remove,omitempty"`
	Properties map[string][]queue.PropertyChange `json:"properties,omitempty"`
}

// StatusEntry is one status transition.
type StatusEntry struct {
	EntityID   string    `json:"entity_id"`
	Old        string    `json:"old,omitempty"`
	New        string    `json:"new"`
	Timestamp  time.Time `json:"ts"`
	TrackingID string    `json:"tracking_id,omitempty"`
}

// StatusPush carries status transitions of one entity kind.
type StatusPush struct {
	Kind       string        `json:"kind"`
	TrackingID string        `json:"tracking_id"`
	Status     []StatusEntry `json:"status,omitempty"`
	Admin      []StatusEntry `json:"admin,omitempty"`
}

type CDRPush struct {
	TrackingID string                       `json:"tracking_id"`
	Records    []*domain.ChargeDetailRecord `json:"records"`
}

// --- Partner -> sync ---

// PushAck reports entities a partner rejected after accepting a push.
type PushAck struct {
	PartnerID  string            `json:"partner_id"`
	Kind       string            `json:"kind"`
	TrackingID string            `json:"tracking_id"`
	Accepted   int               `json:"accepted"`
	Rejected   map[string]string `json:"rejected,omitempty"`
}

// --- Operator backend -> sync ---

// StatusReport is an observed EVSE status from the operator backend.
// Admin is optional.
type StatusReport struct {
	EVSEID    string    `json:"evse_id"`
	Status    string    `json:"status,omitempty"`
	Admin     string    `json:"admin,omitempty"`
	Timestamp time.Time `json:"ts"`
}

type CDRSubmit struct {
	Record domain.ChargeDetailRecord `json:"record"`
}

// StatusEntries converts queued updates to their wire form.
func StatusEntries[S ~string](updates []queue.StatusUpdate[S]) []StatusEntry {
	if len(updates) == 0 {
		return nil
	}
	out := make([]StatusEntry, len(updates))
	for i, u := range updates {
		out[i] = StatusEntry{
			EntityID:   u.EntityID,
			Old:        string(u.Old.Value),
			New:        string(u.New.Value),
			Timestamp:  u.New.Timestamp,
			TrackingID: string(u.TrackingID),
		}
	}
	return out
}
