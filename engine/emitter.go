package engine

import (
	"time"

	"wwcpsync/flush"
	"wwcpsync/roaming"
)

// adapterEmitter bridges roaming adapter telemetry to the EventBus.
type adapterEmitter struct {
	bus *EventBus
}

var _ roaming.Emitter = (*adapterEmitter)(nil)

func (e *adapterEmitter) EmitFlushStarted(adapterID string, s flush.Started) {
	e.bus.Emit(Event{Type: EventFlushStarted, Timestamp: s.Start, Payload: FlushStartedEvent{AdapterID: adapterID, Started: s}})
}

func (e *adapterEmitter) EmitFlushFinished(adapterID string, f flush.Finished) {
	e.bus.Emit(Event{Type: EventFlushFinished, Timestamp: f.End, Payload: FlushFinishedEvent{AdapterID: adapterID, Finished: f}})
}

func (e *adapterEmitter) EmitAdapterException(adapterID string, f flush.Failure) {
	e.bus.Emit(Event{Type: EventAdapterException, Timestamp: f.At, Payload: AdapterExceptionEvent{AdapterID: adapterID, Failure: f}})
}

func (e *adapterEmitter) EmitWarnings(adapterID, cycle string, at time.Time, warnings []string) {
	e.bus.Emit(Event{Type: EventFlushWarnings, Timestamp: at, Payload: FlushWarningsEvent{
		AdapterID: adapterID,
		Cycle:     cycle,
		At:        at,
		Warnings:  warnings,
	}})
}

func (e *adapterEmitter) EmitOperation(ev roaming.OperationEvent) {
	e.bus.Emit(Event{Type: EventOperation, Timestamp: ev.Timestamp, Payload: ev})
}
