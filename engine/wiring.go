package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wwcpsync/flush"
	"wwcpsync/statecache"
	"wwcpsync/store"
)

func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(FlushFinishedEvent)
		f := ev.Finished
		e.recordRun(ev.AdapterID, f.Cycle, f.RunID, flush.Completed, f.Start, f.End, nil)
		e.metrics.FlushFinished(ev.AdapterID, f.Cycle, flush.Completed.String(), f.Runtime, true)
	}, EventFlushFinished)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(AdapterExceptionEvent)
		f := ev.Failure
		start := f.Start
		if start.IsZero() {
			start = f.At
		}
		e.logger.Error("engine: adapter exception", "adapter", ev.AdapterID, "cycle", f.Cycle, "run_id", f.RunID, "tracking_id", f.TrackingID, "error", f.Err)
		e.recordRun(ev.AdapterID, f.Cycle, f.RunID, flush.Failed, start, f.At, f.Err)
		e.metrics.FlushFinished(ev.AdapterID, f.Cycle, flush.Failed.String(), f.At.Sub(start), true)
		e.metrics.FlushException(ev.AdapterID, f.Cycle)
		e.audit("adapter", ev.AdapterID, "exception", "", fmt.Sprintf("%s run %d: %v", f.Cycle, f.RunID, f.Err))
	}, EventAdapterException)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(FlushWarningsEvent)
		e.logger.Warn("engine: flush warnings", "adapter", ev.AdapterID, "cycle", ev.Cycle, "count", len(ev.Warnings))
		e.metrics.FlushWarnings(ev.AdapterID, ev.Cycle, len(ev.Warnings))
		e.audit("adapter", ev.AdapterID, "warnings", "", strings.Join(ev.Warnings, "\n"))
	}, EventFlushWarnings)

	// Operations: metrics for all, audit for the rejected ones
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(OperationEvent)
		e.metrics.Operation(ev.AdapterID, ev.Subject, ev.Operation, ev.Mode.String(), ev.Result.String(), ev.Count, ev.Runtime)
		if !ev.Result.Benign() {
			e.audit(ev.Subject, string(ev.TrackingID), ev.Operation, "", fmt.Sprintf("%s via %s (%s, %d)", ev.Result, ev.AdapterID, ev.Mode, ev.Count))
		}
	}, EventOperation)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(EntityEvent)
		action := "registered"
		if evt.Type == EventEntityRemoved {
			action = "removed"
		}
		e.auditAs(ev.Actor, ev.Kind.String(), ev.ID, action, "", ev.Result.String())
	}, EventEntityRegistered, EventEntityRemoved)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(StatusChangedEvent)
		if e.cache == nil {
			return
		}
		err := e.cache.SetStatus(context.Background(), ev.Kind, statecache.EntityState{
			ID:          ev.ID,
			Status:      ev.Status,
			AdminStatus: ev.AdminStatus,
			UpdatedAt:   ev.Timestamp,
			TrackingID:  string(ev.TrackingID),
		})
		if err != nil {
			e.logger.Warn("engine: cache status", "kind", ev.Kind.String(), "id", ev.ID, "error", err)
		}
	}, EventStatusChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(PushAckEvent)
		if len(ev.Rejected) == 0 {
			return
		}
		e.logger.Warn("engine: partner rejected entities", "partner", ev.PartnerID, "kind", ev.Kind, "tracking_id", ev.TrackingID, "rejected", len(ev.Rejected))
		for id, reason := range ev.Rejected {
			e.audit(ev.Kind, id, "rejected", "", fmt.Sprintf("%s: %s", ev.PartnerID, reason))
		}
	}, EventPushAck)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		switch evt.Type {
		case EventPartnerConnected, EventMessagingConnected:
			e.logger.Info("engine: connected", "partner", ev.PartnerID, "detail", ev.Detail)
		default:
			e.logger.Warn("engine: disconnected", "partner", ev.PartnerID, "detail", ev.Detail)
		}
	}, EventPartnerConnected, EventPartnerDisconnected, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) recordRun(adapterID, cycle string, runID uint64, state flush.State, start, end time.Time, runErr error) {
	r := &store.FlushRun{
		AdapterID:  adapterID,
		Cycle:      cycle,
		RunID:      runID,
		State:      state.String(),
		StartedAt:  start,
		FinishedAt: end,
		RuntimeMS:  end.Sub(start).Milliseconds(),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if e.db != nil {
		if err := e.db.RecordFlushRun(r); err != nil {
			e.logger.Error("engine: record flush run", "adapter", adapterID, "cycle", cycle, "error", err)
		}
	}
	if e.cache != nil {
		err := e.cache.SetCycle(context.Background(), statecache.CycleState{
			AdapterID:  adapterID,
			Cycle:      cycle,
			RunID:      runID,
			State:      r.State,
			FinishedAt: end,
			Runtime:    end.Sub(start).String(),
			Error:      r.Error,
		})
		if err != nil {
			e.logger.Warn("engine: cache flush run", "adapter", adapterID, "cycle", cycle, "error", err)
		}
	}
}

func (e *Engine) audit(entityType, entityID, action, oldValue, newValue string) {
	e.auditAs("system", entityType, entityID, action, oldValue, newValue)
}

func (e *Engine) auditAs(actor, entityType, entityID, action, oldValue, newValue string) {
	if e.db == nil {
		return
	}
	if err := e.db.AppendAudit(entityType, entityID, action, oldValue, newValue, actor); err != nil {
		e.logger.Error("engine: append audit", "entity", entityType, "id", entityID, "error", err)
	}
}
