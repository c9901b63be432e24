// Package partner implements roaming.Partner on top of a Transport that
// carries protocol messages to the partner backend.
package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wwcpsync/domain"
	"wwcpsync/outcome"
	"wwcpsync/protocol"
	"wwcpsync/queue"
	"wwcpsync/roaming"
)

const DefaultBatchSize = 500

// Partner pushes every entity kind and charge detail records through one
// transport, split into messages of at most BatchSize entries.
type Partner struct {
	id        string
	name      string
	transport Transport
	batchSize int
}

type Option func(*Partner)

func WithBatchSize(n int) Option {
	return func(p *Partner) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func New(id, name string, transport Transport, opts ...Option) *Partner {
	p := &Partner{id: id, name: name, transport: transport, batchSize: DefaultBatchSize}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Partner) ID() string           { return p.id }
func (p *Partner) Name() string         { return p.name }
func (p *Partner) Transport() Transport { return p.transport }

// SkipFlush skips every cycle while the transport reports the partner as
// unavailable; the queued work stays for the next cycle.
func (p *Partner) SkipFlush(string) bool {
	if h, ok := p.transport.(Health); ok {
		return !h.Healthy()
	}
	return false
}

func (p *Partner) Ping(ctx context.Context) error {
	if pg, ok := p.transport.(Pinger); ok {
		return pg.Ping(ctx)
	}
	return nil
}

func (p *Partner) PushRoamingNetworkData(ctx context.Context, pending queue.Pending[*domain.RoamingNetwork]) (outcome.Batch[*domain.RoamingNetwork], error) {
	return pushData(ctx, p, domain.KindRoamingNetwork, pending)
}

func (p *Partner) PushRoamingNetworkStatus(ctx context.Context, b roaming.InfrastructureStatusBatch) (outcome.Batch[string], error) {
	return pushStatus(ctx, p, domain.KindRoamingNetwork, b)
}

func (p *Partner) PushOperatorData(ctx context.Context, pending queue.Pending[*domain.ChargingStationOperator]) (outcome.Batch[*domain.ChargingStationOperator], error) {
	return pushData(ctx, p, domain.KindOperator, pending)
}

func (p *Partner) PushOperatorStatus(ctx context.Context, b roaming.InfrastructureStatusBatch) (outcome.Batch[string], error) {
	return pushStatus(ctx, p, domain.KindOperator, b)
}

func (p *Partner) PushPoolData(ctx context.Context, pending queue.Pending[*domain.ChargingPool]) (outcome.Batch[*domain.ChargingPool], error) {
	return pushData(ctx, p, domain.KindPool, pending)
}

func (p *Partner) PushPoolStatus(ctx context.Context, b roaming.InfrastructureStatusBatch) (outcome.Batch[string], error) {
	return pushStatus(ctx, p, domain.KindPool, b)
}

func (p *Partner) PushStationData(ctx context.Context, pending queue.Pending[*domain.ChargingStation]) (outcome.Batch[*domain.ChargingStation], error) {
	return pushData(ctx, p, domain.KindStation, pending)
}

func (p *Partner) PushStationStatus(ctx context.Context, b roaming.InfrastructureStatusBatch) (outcome.Batch[string], error) {
	return pushStatus(ctx, p, domain.KindStation, b)
}

func (p *Partner) PushEVSEData(ctx context.Context, pending queue.Pending[*domain.EVSE]) (outcome.Batch[*domain.EVSE], error) {
	return pushData(ctx, p, domain.KindEVSE, pending)
}

func (p *Partner) PushEVSEStatus(ctx context.Context, b roaming.EVSEStatusBatch) (outcome.Batch[string], error) {
	return pushStatus(ctx, p, domain.KindEVSE, b)
}

func (p *Partner) SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord) (outcome.Batch[*domain.ChargeDetailRecord], error) {
	tid := domain.NewEventTrackingID()
	var results []outcome.Result[*domain.ChargeDetailRecord]
	var errs []error
	for _, chunk := range chunks(cdrs, p.batchSize) {
		msg := protocol.CDRPush{TrackingID: string(tid), Records: chunk}
		ack, err := p.transport.Send(ctx, protocol.TypeCDRPush, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("send %d charge detail records: %w", len(chunk), err))
		}
		for _, c := range chunk {
			results = append(results, resultFor(c, c.ID, tid, ack, err))
		}
	}
	return outcome.Flatten(results...), joinErrors(errs)
}

type op struct {
	remove bool
	update bool
}

func pushData[T domain.Entity](ctx context.Context, p *Partner, kind domain.EntityKind, pending queue.Pending[T]) (outcome.Batch[T], error) {
	type item struct {
		op     op
		entity T
	}
	var items []item
	for _, e := range pending.Add {
		items = append(items, item{entity: e})
	}
	for _, e := range pending.Update {
		items = append(items, item{op: op{update: true}, entity: e})
	}
	for _, e := range pending.Remove {
		items = append(items, item{op: op{remove: true}, entity: e})
	}

	tid := pending.TrackingID.OrNew()
	var results []outcome.Result[T]
	var errs []error
	for _, chunk := range chunks(items, p.batchSize) {
		msg := protocol.DataPush{Kind: kind.String(), TrackingID: string(tid)}
		var buildErr error
		for _, it := range chunk {
			switch {
			case it.op.remove:
				msg.Remove = append(msg.Remove, it.entity.EntityID())
				continue
			case it.op.update:
				if changes, ok := pending.Properties[it.entity.Key()]; ok {
					if msg.Properties == nil {
						msg.Properties = make(map[string][]queue.PropertyChange)
					}
					msg.Properties[it.entity.EntityID()] = changes
				}
			}
			raw, err := json.Marshal(it.entity)
			if err != nil {
				buildErr = fmt.Errorf("encode %s %s: %w", kind, it.entity.EntityID(), err)
				break
			}
			if it.op.update {
				msg.Update = append(msg.Update, raw)
			} else {
				msg.Add = append(msg.Add, raw)
			}
		}

		var ack *protocol.PushAck
		err := buildErr
		if err == nil {
			ack, err = p.transport.Send(ctx, protocol.TypeDataPush, msg)
			if err != nil {
				err = fmt.Errorf("push %d %s records: %w", len(chunk), kind, err)
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
		for _, it := range chunk {
			results = append(results, resultFor(it.entity, it.entity.EntityID(), tid, ack, err))
		}
	}
	return outcome.Flatten(results...), joinErrors(errs)
}

func pushStatus[S, A domain.StatusValue](ctx context.Context, p *Partner, kind domain.EntityKind, b queue.StatusBatch[S, A]) (outcome.Batch[string], error) {
	tid := b.TrackingID.OrNew()
	var results []outcome.Result[string]
	var errs []error

	send := func(status, admin []protocol.StatusEntry) {
		msg := protocol.StatusPush{Kind: kind.String(), TrackingID: string(tid), Status: status, Admin: admin}
		ack, err := p.transport.Send(ctx, protocol.TypeStatusPush, msg)
		if err != nil {
			err = fmt.Errorf("push %d %s status updates: %w", len(status)+len(admin), kind, err)
			errs = append(errs, err)
		}
		for _, list := range [][]protocol.StatusEntry{status, admin} {
			for _, e := range list {
				results = append(results, resultFor(e.EntityID, e.EntityID, tid, ack, err))
			}
		}
	}
	for _, chunk := range chunks(protocol.StatusEntries(b.Status), p.batchSize) {
		send(chunk, nil)
	}
	for _, chunk := range chunks(protocol.StatusEntries(b.Admin), p.batchSize) {
		send(nil, chunk)
	}
	return outcome.Flatten(results...), joinErrors(errs)
}

func resultFor[T any](subject T, id string, tid domain.EventTrackingID, ack *protocol.PushAck, err error) outcome.Result[T] {
	if errors.Is(err, context.Canceled) {
		return outcome.Canceled(subject, tid)
	}
	if err != nil {
		return outcome.Error(subject, tid, err)
	}
	if ack != nil {
		if reason, ok := rejectedBy(ack, id); ok {
			return outcome.Error(subject, tid, errors.New(reason))
		}
	}
	return outcome.Success(subject, tid)
}

func rejectedBy(ack *protocol.PushAck, id string) (string, bool) {
	if reason, ok := ack.Rejected[id]; ok {
		return reason, true
	}
	key := domain.NormalizeKey(id)
	for k, reason := range ack.Rejected {
		if domain.NormalizeKey(k) == key {
			return reason, true
		}
	}
	return "", false
}

func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	return append(out, items)
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
