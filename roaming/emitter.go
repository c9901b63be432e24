package roaming

import (
	"time"

	"wwcpsync/domain"
	"wwcpsync/flush"
	"wwcpsync/outcome"
)

// OperationEvent is emitted once per CRUD, status or CDR operation.
type OperationEvent struct {
	AdapterID  string
	Subject    string
	Operation  string
	Mode       TransmissionMode
	TrackingID domain.EventTrackingID
	Result     outcome.Kind
	Count      int
	Runtime    time.Duration
	Timestamp  time.Time
}

// Emitter receives adapter telemetry.
type Emitter interface {
	EmitFlushStarted(adapterID string, s flush.Started)
	EmitFlushFinished(adapterID string, f flush.Finished)
	EmitAdapterException(adapterID string, f flush.Failure)
	EmitWarnings(adapterID, cycle string, at time.Time, warnings []string)
	EmitOperation(ev OperationEvent)
}

type nopEmitter struct{}

func (nopEmitter) EmitFlushStarted(string, flush.Started)           {}
func (nopEmitter) EmitFlushFinished(string, flush.Finished)         {}
func (nopEmitter) EmitAdapterException(string, flush.Failure)       {}
func (nopEmitter) EmitWarnings(string, string, time.Time, []string) {}
func (nopEmitter) EmitOperation(OperationEvent)                     {}

// cycleEmitter tags flush events with the adapter id.
type cycleEmitter struct {
	adapterID string
	em        Emitter
}

func (c cycleEmitter) EmitFlushStarted(s flush.Started)   { c.em.EmitFlushStarted(c.adapterID, s) }
func (c cycleEmitter) EmitFlushFinished(f flush.Finished) { c.em.EmitFlushFinished(c.adapterID, f) }
func (c cycleEmitter) EmitFlushFailed(f flush.Failure)    { c.em.EmitAdapterException(c.adapterID, f) }
