package roaming

import (
	"context"
	"fmt"
	"time"

	"wwcpsync/domain"
	"wwcpsync/outcome"
	"wwcpsync/queue"
	"wwcpsync/status"
)

type operation int

const (
	opAdd operation = iota
	opAddIfNotExists
	opAddOrUpdate
	opUpdate
	opDelete
)

func (o operation) String() string {
	switch o {
	case opAdd:
		return "add"
	case opAddIfNotExists:
		return "add-if-not-exists"
	case opAddOrUpdate:
		return "add-or-update"
	case opUpdate:
		return "update"
	default:
		return "delete"
	}
}

// Ops are the CRUD and status operations of one entity kind. S is the
// kind's operational status and A its admin status.
type Ops[T domain.Entity, S, A domain.StatusValue] struct {
	a         *Adapter
	kind      domain.EntityKind
	include   func(T) bool
	includeID func(string) bool
	queues    *queue.Set[T, S, A]

	pushData   func(context.Context, queue.Pending[T]) (outcome.Batch[T], error)
	pushStatus func(context.Context, queue.StatusBatch[S, A]) (outcome.Batch[string], error)
}

func newOps[T domain.Entity, S, A domain.StatusValue](a *Adapter, kind domain.EntityKind, include func(T) bool) *Ops[T, S, A] {
	return &Ops[T, S, A]{
		a:       a,
		kind:    kind,
		include: include,
		queues:  queue.NewSet[T, S, A](),
	}
}

func (o *Ops[T, S, A]) Kind() domain.EntityKind { return o.kind }

// Supported reports whether the partner accepts data of this kind.
func (o *Ops[T, S, A]) Supported() bool { return o.pushData != nil }

func (o *Ops[T, S, A]) Counts() queue.Counts { return o.queues.Counts() }

func (o *Ops[T, S, A]) Membership(e T) queue.Membership { return o.queues.Membership(e.Key()) }

func (o *Ops[T, S, A]) Add(ctx context.Context, e T, opts Options) outcome.Result[T] {
	return o.one(ctx, opAdd, e, opts, nil)
}

// AddIfNotExists adds e unless the partner already knows it or it is
// pending.
func (o *Ops[T, S, A]) AddIfNotExists(ctx context.Context, e T, opts Options) outcome.Result[T] {
	return o.one(ctx, opAddIfNotExists, e, opts, nil)
}

func (o *Ops[T, S, A]) AddOrUpdate(ctx context.Context, e T, opts Options) outcome.Result[T] {
	return o.one(ctx, opAddOrUpdate, e, opts, nil)
}

// Update sends e again; changes are optional per-property details.
func (o *Ops[T, S, A]) Update(ctx context.Context, e T, opts Options, changes ...queue.PropertyChange) outcome.Result[T] {
	return o.one(ctx, opUpdate, e, opts, changes)
}

func (o *Ops[T, S, A]) Delete(ctx context.Context, e T, opts Options) outcome.Result[T] {
	return o.one(ctx, opDelete, e, opts, nil)
}

func (o *Ops[T, S, A]) AddMany(ctx context.Context, es []T, opts Options) outcome.Batch[T] {
	return o.many(ctx, opAdd, es, opts, nil)
}

func (o *Ops[T, S, A]) AddManyIfNotExist(ctx context.Context, es []T, opts Options) outcome.Batch[T] {
	return o.many(ctx, opAddIfNotExists, es, opts, nil)
}

func (o *Ops[T, S, A]) AddOrUpdateMany(ctx context.Context, es []T, opts Options) outcome.Batch[T] {
	return o.many(ctx, opAddOrUpdate, es, opts, nil)
}

func (o *Ops[T, S, A]) UpdateMany(ctx context.Context, es []T, opts Options) outcome.Batch[T] {
	return o.many(ctx, opUpdate, es, opts, nil)
}

func (o *Ops[T, S, A]) DeleteMany(ctx context.Context, es []T, opts Options) outcome.Batch[T] {
	return o.many(ctx, opDelete, es, opts, nil)
}

func (o *Ops[T, S, A]) one(ctx context.Context, op operation, e T, opts Options, changes []queue.PropertyChange) outcome.Result[T] {
	b := o.many(ctx, op, []T{e}, opts, changes)
	return b.Results()[0]
}

// many returns one result per entity, in input order.
func (o *Ops[T, S, A]) many(ctx context.Context, op operation, es []T, opts Options, changes []queue.PropertyChange) outcome.Batch[T] {
	opts = o.a.normalize(opts)
	start := o.a.now()
	changes = stamped(changes, opts.Timestamp)

	results := make([]outcome.Result[T], len(es))
	var direct []int
	for i, e := range es {
		if r, done := o.check(e, opts); done {
			results[i] = r
			continue
		}
		if opts.Mode == Enqueue {
			results[i] = o.enqueue(op, e, opts, changes)
			continue
		}
		direct = append(direct, i)
	}
	if len(direct) > 0 {
		o.direct(ctx, op, es, direct, results, opts, changes)
	}

	runtime := o.a.now().Sub(start)
	for i := range results {
		results[i] = results[i].WithRuntime(runtime)
	}
	b := outcome.Flatten(results...).WithRuntime(runtime)
	o.a.emitOperation(o.kind.String(), op.String(), opts, b.Kind(), len(es), runtime)
	return b
}

func stamped(changes []queue.PropertyChange, at time.Time) []queue.PropertyChange {
	if len(changes) == 0 {
		return nil
	}
	out := make([]queue.PropertyChange, len(changes))
	for i, c := range changes {
		if c.Timestamp.IsZero() {
			c.Timestamp = at
		}
		out[i] = c
	}
	return out
}

// check answers entities that never reach the queues or the partner.
func (o *Ops[T, S, A]) check(e T, opts Options) (outcome.Result[T], bool) {
	tid := opts.TrackingID
	switch {
	case e.Key() == "":
		return outcome.ArgumentError(e, tid, o.kind.String(), "empty identifier"), true
	case o.pushData == nil:
		return outcome.NoOperation(e, tid, fmt.Sprintf("%s does not accept %s data", o.a.name, o.kind)), true
	case o.a.cfg.DisablePushData:
		return outcome.NoOperation(e, tid, "pushing data is disabled"), true
	case o.include != nil && !o.include(e):
		return outcome.NoOperation(e, tid, "excluded by include filter"), true
	case o.includeID != nil && !o.includeID(e.EntityID()):
		return outcome.NoOperation(e, tid, "excluded by identifier filter"), true
	}
	return outcome.Result[T]{}, false
}

func (o *Ops[T, S, A]) enqueue(op operation, e T, opts Options, changes []queue.PropertyChange) outcome.Result[T] {
	tid := opts.TrackingID
	switch op {
	case opAdd:
		o.queues.Add(e)
	case opAddIfNotExists:
		if _, queued := o.queues.AddIfAbsent(e); !queued {
			return outcome.NoOperation(e, tid, "already known or pending")
		}
	case opAddOrUpdate:
		o.queues.Upsert(e)
	case opUpdate:
		if o.queues.Update(e, changes...) == queue.ToRemove {
			return outcome.NoOperation(e, tid, "pending removal")
		}
	case opDelete:
		if o.queues.Remove(e) == queue.None {
			return outcome.NoOperation(e, tid, "pending add canceled")
		}
	}
	return outcome.Enqueued(e, tid)
}

// direct pushes the entities at idx straight to the partner and fills
// their results.
func (o *Ops[T, S, A]) direct(ctx context.Context, op operation, es []T, idx []int, results []outcome.Result[T], opts Options, changes []queue.PropertyChange) {
	tid := opts.TrackingID
	pending := queue.Pending[T]{TrackingID: tid}
	var sent []int
	for _, i := range idx {
		e := es[i]
		switch op {
		case opAdd:
			pending.Add = append(pending.Add, e)
		case opAddIfNotExists:
			if o.queues.Tracked(e.Key()) {
				results[i] = outcome.NoOperation(e, tid, "already known or pending")
				continue
			}
			pending.Add = append(pending.Add, e)
		case opAddOrUpdate:
			if o.queues.Known(e.Key()) {
				pending.Update = append(pending.Update, e)
			} else {
				pending.Add = append(pending.Add, e)
			}
		case opUpdate:
			pending.Update = append(pending.Update, e)
			if len(changes) > 0 {
				if pending.Properties == nil {
					pending.Properties = make(map[string][]queue.PropertyChange)
				}
				pending.Properties[e.Key()] = changes
			}
		case opDelete:
			pending.Remove = append(pending.Remove, e)
		}
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return
	}

	// Anything queued for these entities before the push is superseded by
	// it; writes racing with the push stay queued.
	mark := o.queues.Mark()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	b, err := o.pushData(ctx, pending)

	byKey := make(map[string]outcome.Result[T], b.Len())
	for _, r := range b.Results() {
		byKey[r.Subject().Key()] = r
	}
	for _, i := range sent {
		e := es[i]
		r, ok := byKey[e.Key()]
		switch {
		case ok:
		case err != nil:
			r = outcome.FromError(e, tid, err, opts.Timeout)
		default:
			r = outcome.Success(e, tid)
		}
		results[i] = r
		if r.Kind() == outcome.KindSuccess {
			o.queues.Settle(e.Key(), mark, op != opDelete)
		}
	}
}

// confirm marks the entities of a flushed snapshot known or unknown
// according to the partner's answer. Entities missing from the answer
// count as accepted unless the push failed.
func (o *Ops[T, S, A]) confirm(p queue.Pending[T], b outcome.Batch[T], err error) {
	answered := make(map[string]outcome.Kind, b.Len())
	for _, r := range b.Results() {
		answered[r.Subject().Key()] = r.Kind()
	}
	accepted := func(e T) bool {
		if k, ok := answered[e.Key()]; ok {
			return k == outcome.KindSuccess
		}
		return err == nil
	}
	for _, list := range [][]T{p.Add, p.Update} {
		for _, e := range list {
			if accepted(e) {
				o.queues.MarkKnown(e.Key(), true)
			}
		}
	}
	for _, e := range p.Remove {
		if accepted(e) {
			o.queues.MarkKnown(e.Key(), false)
		}
	}
}

// UpdateStatus reports operational status transitions.
func (o *Ops[T, S, A]) UpdateStatus(ctx context.Context, updates []queue.StatusUpdate[S], opts Options) outcome.Batch[string] {
	return pushStatusUpdates(ctx, o, "update-status", updates, opts, o.a.cfg.DisablePushStatus,
		o.queues.EnqueueStatus,
		func(us []queue.StatusUpdate[S]) queue.StatusBatch[S, A] { return queue.StatusBatch[S, A]{Status: us} })
}

// UpdateAdminStatus reports admin status transitions.
func (o *Ops[T, S, A]) UpdateAdminStatus(ctx context.Context, updates []queue.StatusUpdate[A], opts Options) outcome.Batch[string] {
	return pushStatusUpdates(ctx, o, "update-admin-status", updates, opts, o.a.cfg.DisablePushAdminStatus,
		o.queues.EnqueueAdminStatus,
		func(us []queue.StatusUpdate[A]) queue.StatusBatch[S, A] { return queue.StatusBatch[S, A]{Admin: us} })
}

func pushStatusUpdates[T domain.Entity, S, A domain.StatusValue, V comparable](
	ctx context.Context,
	o *Ops[T, S, A],
	name string,
	updates []queue.StatusUpdate[V],
	opts Options,
	disabled bool,
	enqueue func(queue.StatusUpdate[V]) queue.Lane,
	wrap func([]queue.StatusUpdate[V]) queue.StatusBatch[S, A],
) outcome.Batch[string] {
	opts = o.a.normalize(opts)
	start := o.a.now()
	tid := opts.TrackingID

	results := make([]outcome.Result[string], len(updates))
	var direct []int
	for i, u := range updates {
		id := u.EntityID
		switch {
		case u.Key() == "":
			results[i] = outcome.ArgumentError(id, tid, "entity_id", "empty identifier")
		case o.pushStatus == nil:
			results[i] = outcome.NoOperation(id, tid, fmt.Sprintf("%s does not accept %s status", o.a.name, o.kind))
		case disabled:
			results[i] = outcome.NoOperation(id, tid, "pushing status is disabled")
		case o.includeID != nil && !o.includeID(id):
			results[i] = outcome.NoOperation(id, tid, "excluded by identifier filter")
		case opts.Mode == Enqueue:
			if enqueue(u) == queue.LaneDropped {
				results[i] = outcome.NoOperation(id, tid, "pending removal")
			} else {
				results[i] = outcome.Enqueued(id, tid)
			}
		default:
			direct = append(direct, i)
		}
	}

	if len(direct) > 0 {
		batch := make([]queue.StatusUpdate[V], 0, len(direct))
		for _, i := range direct {
			batch = append(batch, updates[i])
		}
		sb := wrap(batch)
		sb.TrackingID = tid

		pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		b, err := o.pushStatus(pctx, sb)
		cancel()

		byKey := make(map[string]outcome.Result[string], b.Len())
		for _, r := range b.Results() {
			byKey[domain.NormalizeKey(r.Subject())] = r
		}
		for _, i := range direct {
			u := updates[i]
			r, ok := byKey[u.Key()]
			switch {
			case ok:
			case err != nil:
				r = outcome.FromError(u.EntityID, tid, err, opts.Timeout)
			default:
				r = outcome.Success(u.EntityID, tid)
			}
			results[i] = r
		}
	}

	runtime := o.a.now().Sub(start)
	b := outcome.Flatten(results...).WithRuntime(runtime)
	o.a.emitOperation(o.kind.String(), name, opts, b.Kind(), len(updates), runtime)
	return b
}

// Watch forwards changes of the given schedules as enqueued status updates
// of e. Either schedule may be nil. The returned func unsubscribes.
func (o *Ops[T, S, A]) Watch(e T, st *status.Schedule[S], admin *status.Schedule[A]) (unwatch func()) {
	id := e.EntityID()
	var unsub []func()
	if st != nil {
		sid := st.OnChange(func(c status.Change[S]) {
			o.UpdateStatus(context.Background(), []queue.StatusUpdate[S]{queue.NewStatusUpdate(id, c)},
				Options{Mode: Enqueue, Timestamp: c.Timestamp, TrackingID: domain.EventTrackingID(c.TrackingID)})
		})
		unsub = append(unsub, func() { st.Unsubscribe(sid) })
	}
	if admin != nil {
		aid := admin.OnChange(func(c status.Change[A]) {
			o.UpdateAdminStatus(context.Background(), []queue.StatusUpdate[A]{queue.NewStatusUpdate(id, c)},
				Options{Mode: Enqueue, Timestamp: c.Timestamp, TrackingID: domain.EventTrackingID(c.TrackingID)})
		})
		unsub = append(unsub, func() { admin.Unsubscribe(aid) })
	}
	return func() {
		for _, fn := range unsub {
			fn()
		}
	}
}

func (o *Ops[T, S, A]) drainData(tid domain.EventTrackingID) job {
	p, sb := o.queues.DrainData()
	p.TrackingID = tid
	sb.TrackingID = tid
	return dataJob[T, S, A]{ops: o, pending: p, status: sb}
}

func (o *Ops[T, S, A]) drainFast(tid domain.EventTrackingID) job {
	sb := o.queues.DrainFast()
	sb.TrackingID = tid
	return dataJob[T, S, A]{ops: o, status: sb}
}
