package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wwcpsync/domain"
	"wwcpsync/outcome"
	"wwcpsync/queue"
	"wwcpsync/roaming"
	"wwcpsync/status"
)

// ErrUnknownEntity is returned for status updates of unregistered entities.
var ErrUnknownEntity = errors.New("engine: unknown entity")

type entry struct {
	entity  domain.Entity
	unwatch []func()
}

// Registry holds the local infrastructure model. Registering an entity
// announces it to every adapter and watches its status schedules, so later
// status changes are enqueued to every partner.
type Registry struct {
	eng     *Engine
	mu      sync.RWMutex
	entries map[domain.EntityKind]map[string]*entry
}

func newRegistry(eng *Engine) *Registry {
	return &Registry{eng: eng, entries: make(map[domain.EntityKind]map[string]*entry)}
}

func (r *Registry) RegisterRoamingNetwork(ctx context.Context, n *domain.RoamingNetwork, opts roaming.Options) outcome.Batch[*domain.RoamingNetwork] {
	return register(ctx, r, n, n.Status, n.AdminStatus, (*roaming.Adapter).RoamingNetworks, opts)
}

func (r *Registry) RegisterOperator(ctx context.Context, o *domain.ChargingStationOperator, opts roaming.Options) outcome.Batch[*domain.ChargingStationOperator] {
	return register(ctx, r, o, o.Status, o.AdminStatus, (*roaming.Adapter).Operators, opts)
}

func (r *Registry) RegisterPool(ctx context.Context, p *domain.ChargingPool, opts roaming.Options) outcome.Batch[*domain.ChargingPool] {
	return register(ctx, r, p, p.Status, p.AdminStatus, (*roaming.Adapter).Pools, opts)
}

func (r *Registry) RegisterStation(ctx context.Context, s *domain.ChargingStation, opts roaming.Options) outcome.Batch[*domain.ChargingStation] {
	return register(ctx, r, s, s.Status, s.AdminStatus, (*roaming.Adapter).Stations, opts)
}

func (r *Registry) RegisterEVSE(ctx context.Context, e *domain.EVSE, opts roaming.Options) outcome.Batch[*domain.EVSE] {
	return register(ctx, r, e, e.Status, e.AdminStatus, (*roaming.Adapter).EVSEs, opts)
}

func (r *Registry) UpdatePool(ctx context.Context, p *domain.ChargingPool, opts roaming.Options, changes ...queue.PropertyChange) outcome.Batch[*domain.ChargingPool] {
	return update(ctx, r, p, p.Status, p.AdminStatus, (*roaming.Adapter).Pools, opts, changes)
}

func (r *Registry) UpdateStation(ctx context.Context, s *domain.ChargingStation, opts roaming.Options, changes ...queue.PropertyChange) outcome.Batch[*domain.ChargingStation] {
	return update(ctx, r, s, s.Status, s.AdminStatus, (*roaming.Adapter).Stations, opts, changes)
}

func (r *Registry) UpdateEVSE(ctx context.Context, e *domain.EVSE, opts roaming.Options, changes ...queue.PropertyChange) outcome.Batch[*domain.EVSE] {
	return update(ctx, r, e, e.Status, e.AdminStatus, (*roaming.Adapter).EVSEs, opts, changes)
}

func (r *Registry) RemovePool(ctx context.Context, id domain.PoolID, opts roaming.Options) outcome.Batch[*domain.ChargingPool] {
	return remove(ctx, r, domain.KindPool, string(id), (*roaming.Adapter).Pools, opts)
}

func (r *Registry) RemoveStation(ctx context.Context, id domain.StationID, opts roaming.Options) outcome.Batch[*domain.ChargingStation] {
	return remove(ctx, r, domain.KindStation, string(id), (*roaming.Adapter).Stations, opts)
}

func (r *Registry) RemoveEVSE(ctx context.Context, id domain.EVSEID, opts roaming.Options) outcome.Batch[*domain.EVSE] {
	return remove(ctx, r, domain.KindEVSE, string(id), (*roaming.Adapter).EVSEs, opts)
}

// SetEVSEStatus records an observed status. Adapters receive it through
// their schedule watchers.
func (r *Registry) SetEVSEStatus(id domain.EVSEID, s domain.EVSEStatus, at time.Time, tid domain.EventTrackingID) error {
	e, ok := lookup[*domain.EVSE](r, domain.KindEVSE, string(id))
	if !ok {
		return fmt.Errorf("%w: evse %s", ErrUnknownEntity, id)
	}
	if !s.Valid() {
		return fmt.Errorf("engine: invalid evse status %q", s)
	}
	e.Status.Insert(s, at, string(tid.OrNew()))
	return nil
}

func (r *Registry) SetEVSEAdminStatus(id domain.EVSEID, s domain.AdminStatus, at time.Time, tid domain.EventTrackingID) error {
	e, ok := lookup[*domain.EVSE](r, domain.KindEVSE, string(id))
	if !ok {
		return fmt.Errorf("%w: evse %s", ErrUnknownEntity, id)
	}
	if !s.Valid() {
		return fmt.Errorf("engine: invalid admin status %q", s)
	}
	e.AdminStatus.Insert(s, at, string(tid.OrNew()))
	return nil
}

// SendChargeDetailRecords forwards records to every adapter.
func (r *Registry) SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord, opts roaming.Options) outcome.Batch[*domain.ChargeDetailRecord] {
	return fanOut(ctx, r.eng.Adapters(), func(ctx context.Context, a *roaming.Adapter) outcome.Batch[*domain.ChargeDetailRecord] {
		return a.SendChargeDetailRecords(ctx, cdrs, opts)
	})
}

func (r *Registry) EVSE(id domain.EVSEID) (*domain.EVSE, bool) {
	return lookup[*domain.EVSE](r, domain.KindEVSE, string(id))
}

func (r *Registry) Get(kind domain.EntityKind, id string) (domain.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	en, ok := r.entries[kind][domain.NormalizeKey(id)]
	if !ok {
		return nil, false
	}
	return en.entity, true
}

// List returns the entities of a kind ordered by id.
func (r *Registry) List(kind domain.EntityKind) []domain.Entity {
	r.mu.RLock()
	out := make([]domain.Entity, 0, len(r.entries[kind]))
	for _, en := range r.entries[kind] {
		out = append(out, en.entity)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *Registry) Len(kind domain.EntityKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}

// StatusView is the current status of an entity on both axes.
type StatusView struct {
	Kind        string                       `json:"kind"`
	ID          string                       `json:"id"`
	Status      string                       `json:"status"`
	AdminStatus string                       `json:"admin_status"`
	History     []status.Timestamped[string] `json:"history,omitempty"`
	Attributes  map[string]string            `json:"attributes,omitempty"`
}

func (r *Registry) Status(kind domain.EntityKind, id string) (StatusView, bool) {
	e, ok := r.Get(kind, id)
	if !ok {
		return StatusView{}, false
	}
	v := StatusView{Kind: kind.String(), ID: e.EntityID(), Attributes: e.Attributes()}
	switch x := e.(type) {
	case *domain.RoamingNetwork:
		v.Status, v.AdminStatus, v.History = view(x.Status, x.AdminStatus)
	case *domain.ChargingStationOperator:
		v.Status, v.AdminStatus, v.History = view(x.Status, x.AdminStatus)
	case *domain.ChargingPool:
		v.Status, v.AdminStatus, v.History = view(x.Status, x.AdminStatus)
	case *domain.ChargingStation:
		v.Status, v.AdminStatus, v.History = view(x.Status, x.AdminStatus)
	case *domain.EVSE:
		v.Status, v.AdminStatus, v.History = view(x.Status, x.AdminStatus)
	}
	return v, true
}

func view[S, A domain.StatusValue](st *status.Schedule[S], admin *status.Schedule[A]) (string, string, []status.Timestamped[string]) {
	var hist []status.Timestamped[string]
	for _, t := range st.Entries() {
		hist = append(hist, status.Timestamped[string]{Timestamp: t.Timestamp, Value: string(t.Value)})
	}
	return string(st.Value()), string(admin.Value()), hist
}

func lookup[T domain.Entity](r *Registry, kind domain.EntityKind, id string) (T, bool) {
	var zero T
	e, ok := r.Get(kind, id)
	if !ok {
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}

func register[T domain.Entity, S, A domain.StatusValue](
	ctx context.Context,
	r *Registry,
	e T,
	st *status.Schedule[S],
	admin *status.Schedule[A],
	ops func(*roaming.Adapter) *roaming.Ops[T, S, A],
	opts roaming.Options,
) outcome.Batch[T] {
	opts.TrackingID = opts.TrackingID.OrNew()
	if e.Key() == "" {
		return outcome.Flatten(outcome.ArgumentError(e, opts.TrackingID, e.Kind().String(), "empty identifier"))
	}
	adapters := r.eng.Adapters()
	attach(r, e, st, admin, ops, adapters, false)

	b := fanOut(ctx, adapters, func(ctx context.Context, a *roaming.Adapter) outcome.Batch[T] {
		return outcome.Flatten(ops(a).AddOrUpdate(ctx, e, opts))
	})
	r.eng.Events.Emit(Event{Type: EventEntityRegistered, Payload: EntityEvent{Kind: e.Kind(), ID: e.EntityID(), Result: b.Kind(), Actor: actorFrom(ctx)}})
	return b
}

func update[T domain.Entity, S, A domain.StatusValue](
	ctx context.Context,
	r *Registry,
	e T,
	st *status.Schedule[S],
	admin *status.Schedule[A],
	ops func(*roaming.Adapter) *roaming.Ops[T, S, A],
	opts roaming.Options,
	changes []queue.PropertyChange,
) outcome.Batch[T] {
	opts.TrackingID = opts.TrackingID.OrNew()
	adapters := r.eng.Adapters()
	if !attach(r, e, st, admin, ops, adapters, true) {
		return outcome.Flatten(outcome.ArgumentError(e, opts.TrackingID, e.Kind().String(), "entity is not registered"))
	}
	return fanOut(ctx, adapters, func(ctx context.Context, a *roaming.Adapter) outcome.Batch[T] {
		return outcome.Flatten(ops(a).Update(ctx, e, opts, changes...))
	})
}

// attach stores e and watches its schedules on every adapter, replacing the
// watchers of a previously registered instance. With existingOnly it does
// nothing for an unregistered key and returns false.
func attach[T domain.Entity, S, A domain.StatusValue](
	r *Registry,
	e T,
	st *status.Schedule[S],
	admin *status.Schedule[A],
	ops func(*roaming.Adapter) *roaming.Ops[T, S, A],
	adapters []*roaming.Adapter,
	existingOnly bool,
) bool {
	kind, key := e.Kind(), e.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[kind] == nil {
		r.entries[kind] = make(map[string]*entry)
	}
	prev, exists := r.entries[kind][key]
	if !exists && existingOnly {
		return false
	}
	if exists {
		if prev.entity == domain.Entity(e) {
			return true
		}
		for _, fn := range prev.unwatch {
			fn()
		}
	}
	en := &entry{entity: e}
	for _, a := range adapters {
		en.unwatch = append(en.unwatch, ops(a).Watch(e, st, admin))
	}
	en.unwatch = append(en.unwatch, watchStatus(r, kind, e.EntityID(), st, admin)...)
	r.entries[kind][key] = en
	return true
}

func remove[T domain.Entity, S, A domain.StatusValue](
	ctx context.Context,
	r *Registry,
	kind domain.EntityKind,
	id string,
	ops func(*roaming.Adapter) *roaming.Ops[T, S, A],
	opts roaming.Options,
) outcome.Batch[T] {
	opts.TrackingID = opts.TrackingID.OrNew()
	key := domain.NormalizeKey(id)

	r.mu.Lock()
	en, ok := r.entries[kind][key]
	if ok {
		delete(r.entries[kind], key)
	}
	r.mu.Unlock()

	var zero T
	if !ok {
		return outcome.Flatten(outcome.NoOperation(zero, opts.TrackingID, fmt.Sprintf("%s %s is not registered", kind, id)))
	}
	for _, fn := range en.unwatch {
		fn()
	}
	e := en.entity.(T)
	b := fanOut(ctx, r.eng.Adapters(), func(ctx context.Context, a *roaming.Adapter) outcome.Batch[T] {
		return outcome.Flatten(ops(a).Delete(ctx, e, opts))
	})
	r.eng.Events.Emit(Event{Type: EventEntityRemoved, Payload: EntityEvent{Kind: kind, ID: e.EntityID(), Result: b.Kind(), Actor: actorFrom(ctx)}})
	return b
}

// watchStatus publishes schedule changes on the EventBus.
func watchStatus[S, A domain.StatusValue](r *Registry, kind domain.EntityKind, id string, st *status.Schedule[S], admin *status.Schedule[A]) []func() {
	emit := func(ev StatusChangedEvent) {
		ev.Kind = kind
		ev.ID = id
		r.eng.Events.Emit(Event{Type: EventStatusChanged, Timestamp: ev.Timestamp, Payload: ev})
	}
	var unsub []func()
	if st != nil {
		sid := st.OnChange(func(c status.Change[S]) {
			emit(StatusChangedEvent{Status: string(c.New.Value), Timestamp: c.New.Timestamp, TrackingID: domain.EventTrackingID(c.TrackingID)})
		})
		unsub = append(unsub, func() { st.Unsubscribe(sid) })
	}
	if admin != nil {
		aid := admin.OnChange(func(c status.Change[A]) {
			emit(StatusChangedEvent{AdminStatus: string(c.New.Value), Timestamp: c.New.Timestamp, TrackingID: domain.EventTrackingID(c.TrackingID)})
		})
		unsub = append(unsub, func() { admin.Unsubscribe(aid) })
	}
	return unsub
}

// fanOut runs call against every adapter concurrently and merges the
// per-partner batches.
func fanOut[T any](ctx context.Context, adapters []*roaming.Adapter, call func(context.Context, *roaming.Adapter) outcome.Batch[T]) outcome.Batch[T] {
	batches := make([]outcome.Batch[T], len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			batches[i] = call(ctx, a)
			return nil
		})
	}
	g.Wait()
	return outcome.Merge(batches...)
}
