package engine

import (
	"time"

	"wwcpsync/domain"
	"wwcpsync/flush"
	"wwcpsync/outcome"
	"wwcpsync/roaming"
)

const (
	EventFlushStarted EventType = iota + 1
	EventFlushFinished
	EventAdapterException
	EventFlushWarnings
	EventOperation
	EventEntityRegistered
	EventEntityRemoved
	EventStatusChanged
	EventPushAck
	EventPartnerConnected
	EventPartnerDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventFlushStarted:          "flush-started",
	EventFlushFinished:         "flush-finished",
	EventAdapterException:      "adapter-exception",
	EventFlushWarnings:         "flush-warnings",
	EventOperation:             "operation",
	EventEntityRegistered:      "entity-registered",
	EventEntityRemoved:         "entity-removed",
	EventStatusChanged:         "status-changed",
	EventPushAck:               "push-ack",
	EventPartnerConnected:      "partner-connected",
	EventPartnerDisconnected:   "partner-disconnected",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type FlushStartedEvent struct {
	AdapterID string
	Started   flush.Started
}

type FlushFinishedEvent struct {
	AdapterID string
	Finished  flush.Finished
}

type AdapterExceptionEvent struct {
	AdapterID string
	Failure   flush.Failure
}

type FlushWarningsEvent struct {
	AdapterID string
	Cycle     string
	At        time.Time
	Warnings  []string
}

type OperationEvent = roaming.OperationEvent

type EntityEvent struct {
	Kind   domain.EntityKind
	ID     string
	Result outcome.Kind
	Actor  string
}

// StatusChangedEvent is emitted for either status axis; the other one is
// empty.
type StatusChangedEvent struct {
	Kind        domain.EntityKind
	ID          string
	Status      string
	AdminStatus string
	Timestamp   time.Time
	TrackingID  domain.EventTrackingID
}

type PushAckEvent struct {
	PartnerID  string
	Kind       string
	TrackingID string
	Accepted   int
	Rejected   map[string]string
}

type ConnectionEvent struct {
	PartnerID string
	Detail    string
}
