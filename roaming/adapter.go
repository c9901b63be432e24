// Package roaming synchronizes local charging infrastructure with one
// roaming partner. Every operation runs in Direct mode, reaching the
// partner immediately, or Enqueue mode, where the mutation waits in the
// adapter's queues for the next flush cycle.
package roaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wwcpsync/domain"
	"wwcpsync/flush"
	"wwcpsync/log"
	"wwcpsync/outcome"
	"wwcpsync/queue"
)

type (
	NetworkOps  = Ops[*domain.RoamingNetwork, domain.InfrastructureStatus, domain.AdminStatus]
	OperatorOps = Ops[*domain.ChargingStationOperator, domain.InfrastructureStatus, domain.AdminStatus]
	PoolOps     = Ops[*domain.ChargingPool, domain.InfrastructureStatus, domain.AdminStatus]
	StationOps  = Ops[*domain.ChargingStation, domain.InfrastructureStatus, domain.AdminStatus]
	EVSEOps     = Ops[*domain.EVSE, domain.EVSEStatus, domain.AdminStatus]
)

// kindQueue is the flush-facing side of an Ops.
type kindQueue interface {
	Kind() domain.EntityKind
	Counts() queue.Counts
	drainData(tid domain.EventTrackingID) job
	drainFast(tid domain.EventTrackingID) job
}

// Adapter connects the local infrastructure to one roaming partner.
type Adapter struct {
	id      string
	name    string
	partner Partner
	cfg     Config
	emitter Emitter
	now     func() time.Time

	networks  *NetworkOps
	operators *OperatorOps
	pools     *PoolOps
	stations  *StationOps
	evses     *EVSEOps
	kinds     []kindQueue

	cdrs     queue.Records[*domain.ChargeDetailRecord]
	sendCDRs func(context.Context, []*domain.ChargeDetailRecord) (outcome.Batch[*domain.ChargeDetailRecord], error)

	dataCycle *flush.Cycle[[]job]
	fastCycle *flush.Cycle[[]job]
	cdrCycle  *flush.Cycle[[]*domain.ChargeDetailRecord]
}

// New builds an adapter for partner. The partner's optional interfaces
// decide which kinds it supports.
func New(partner Partner, cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	a := &Adapter{
		id:      partner.ID(),
		name:    partner.Name(),
		partner: partner,
		cfg:     cfg,
		emitter: cfg.Emitter,
		now:     cfg.Now,
	}

	a.networks = newOps[*domain.RoamingNetwork, domain.InfrastructureStatus, domain.AdminStatus](a, domain.KindRoamingNetwork, cfg.IncludeRoamingNetworks)
	if p, ok := partner.(RoamingNetworkDataPusher); ok {
		a.networks.pushData = p.PushRoamingNetworkData
	}
	if p, ok := partner.(RoamingNetworkStatusPusher); ok {
		a.networks.pushStatus = p.PushRoamingNetworkStatus
	}

	a.operators = newOps[*domain.ChargingStationOperator, domain.InfrastructureStatus, domain.AdminStatus](a, domain.KindOperator, cfg.IncludeOperators)
	if p, ok := partner.(OperatorDataPusher); ok {
		a.operators.pushData = p.PushOperatorData
	}
	if p, ok := partner.(OperatorStatusPusher); ok {
		a.operators.pushStatus = p.PushOperatorStatus
	}

	a.pools = newOps[*domain.ChargingPool, domain.InfrastructureStatus, domain.AdminStatus](a, domain.KindPool, cfg.IncludeChargingPools)
	if p, ok := partner.(PoolDataPusher); ok {
		a.pools.pushData = p.PushPoolData
	}
	if p, ok := partner.(PoolStatusPusher); ok {
		a.pools.pushStatus = p.PushPoolStatus
	}

	a.stations = newOps[*domain.ChargingStation, domain.InfrastructureStatus, domain.AdminStatus](a, domain.KindStation, cfg.IncludeChargingStations)
	if p, ok := partner.(StationDataPusher); ok {
		a.stations.pushData = p.PushStationData
	}
	if p, ok := partner.(StationStatusPusher); ok {
		a.stations.pushStatus = p.PushStationStatus
	}

	a.evses = newOps[*domain.EVSE, domain.EVSEStatus, domain.AdminStatus](a, domain.KindEVSE, cfg.IncludeEVSEs)
	if p, ok := partner.(EVSEDataPusher); ok {
		a.evses.pushData = p.PushEVSEData
	}
	if p, ok := partner.(EVSEStatusPusher); ok {
		a.evses.pushStatus = p.PushEVSEStatus
	}
	if cfg.IncludeEVSEIDs != nil {
		a.evses.includeID = func(id string) bool { return cfg.IncludeEVSEIDs(domain.EVSEID(id)) }
	}

	// Parents are flushed before their children.
	a.kinds = []kindQueue{a.networks, a.operators, a.pools, a.stations, a.evses}

	if s, ok := partner.(CDRSender); ok {
		a.sendCDRs = s.SendChargeDetailRecords
	}

	ce := cycleEmitter{adapterID: a.id, em: a.emitter}
	a.dataCycle = flush.New(flush.Config[[]job]{
		Name:    CycleDataAndStatus,
		Period:  cfg.FlushEVSEDataAndStatusEvery,
		Timeout: cfg.FlushTimeout,
		Skip:    func() bool { return a.skip(CycleDataAndStatus, a.pendingData()) },
		Snapshot: func(tid domain.EventTrackingID) []job {
			return a.snapshot(func(k kindQueue) job { return k.drainData(tid) })
		},
		Flush:   func(ctx context.Context, jobs []job) error { return a.flushJobs(ctx, CycleDataAndStatus, jobs) },
		Emitter: ce,
		Now:     a.now,
	})
	a.fastCycle = flush.New(flush.Config[[]job]{
		Name:    CycleFastStatus,
		Period:  cfg.FlushEVSEFastStatusEvery,
		Timeout: cfg.FlushTimeout,
		Skip:    func() bool { return a.skip(CycleFastStatus, a.pendingFast()) },
		Snapshot: func(tid domain.EventTrackingID) []job {
			return a.snapshot(func(k kindQueue) job { return k.drainFast(tid) })
		},
		Flush:   func(ctx context.Context, jobs []job) error { return a.flushJobs(ctx, CycleFastStatus, jobs) },
		Emitter: ce,
		Now:     a.now,
	})
	a.cdrCycle = flush.New(flush.Config[[]*domain.ChargeDetailRecord]{
		Name:     CycleCDR,
		Period:   cfg.FlushChargeDetailRecordsEvery,
		Timeout:  cfg.FlushTimeout,
		Skip:     a.skipCDRs,
		Snapshot: func(domain.EventTrackingID) []*domain.ChargeDetailRecord { return a.cdrs.Drain() },
		Flush:    a.flushCDRs,
		Emitter:  ce,
		Now:      a.now,
	})
	return a
}

func (a *Adapter) ID() string       { return a.id }
func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) Partner() Partner { return a.partner }

func (a *Adapter) RoamingNetworks() *NetworkOps { return a.networks }
func (a *Adapter) Operators() *OperatorOps      { return a.operators }
func (a *Adapter) Pools() *PoolOps              { return a.pools }
func (a *Adapter) Stations() *StationOps        { return a.stations }
func (a *Adapter) EVSEs() *EVSEOps              { return a.evses }

// Start runs the three flush cycles until Stop, unless auto flush is
// disabled.
func (a *Adapter) Start(ctx context.Context) {
	if a.cfg.DisableAutoFlush {
		log.Ctx(ctx).Info("auto flush disabled", "adapter", a.id)
		return
	}
	a.dataCycle.Start(ctx)
	a.fastCycle.Start(ctx)
	a.cdrCycle.Start(ctx)
}

// Stop halts the cycles and waits for in-flight flushes.
func (a *Adapter) Stop() {
	a.dataCycle.Stop()
	a.fastCycle.Stop()
	a.cdrCycle.Stop()
}

// FlushEVSEDataAndStatus runs the data cycle once, outside the timer.
func (a *Adapter) FlushEVSEDataAndStatus(ctx context.Context) flush.Run {
	return a.dataCycle.Tick(ctx)
}

func (a *Adapter) FlushEVSEFastStatus(ctx context.Context) flush.Run {
	return a.fastCycle.Tick(ctx)
}

func (a *Adapter) FlushChargeDetailRecords(ctx context.Context) flush.Run {
	return a.cdrCycle.Tick(ctx)
}

// Flush runs the named cycle once.
func (a *Adapter) Flush(ctx context.Context, cycle string) (flush.Run, error) {
	switch cycle {
	case CycleDataAndStatus:
		return a.FlushEVSEDataAndStatus(ctx), nil
	case CycleFastStatus:
		return a.FlushEVSEFastStatus(ctx), nil
	case CycleCDR:
		return a.FlushChargeDetailRecords(ctx), nil
	}
	return flush.Run{}, fmt.Errorf("unknown flush cycle %q", cycle)
}

// CycleStats reports the counters of every cycle by name.
func (a *Adapter) CycleStats() map[string]flush.Stats {
	return map[string]flush.Stats{
		CycleDataAndStatus: a.dataCycle.Stats(),
		CycleFastStatus:    a.fastCycle.Stats(),
		CycleCDR:           a.cdrCycle.Stats(),
	}
}

// Counts reports the queue sizes of every entity kind.
func (a *Adapter) Counts() map[domain.EntityKind]queue.Counts {
	out := make(map[domain.EntityKind]queue.Counts, len(a.kinds))
	for _, k := range a.kinds {
		out[k.Kind()] = k.Counts()
	}
	return out
}

func (a *Adapter) PendingChargeDetailRecords() int { return a.cdrs.Len() }

// Ping checks partner reachability when the partner supports it.
func (a *Adapter) Ping(ctx context.Context) error {
	p, ok := a.partner.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	return p.Ping(ctx)
}

func (a *Adapter) normalize(opts Options) Options {
	if opts.Mode == DefaultMode {
		opts.Mode = a.cfg.DefaultMode
	}
	if opts.Timestamp.IsZero() {
		opts.Timestamp = a.now()
	}
	opts.TrackingID = opts.TrackingID.OrNew()
	if opts.Timeout <= 0 {
		opts.Timeout = a.cfg.RequestTimeout
	}
	return opts
}

func (a *Adapter) emitOperation(subject, op string, opts Options, kind outcome.Kind, count int, runtime time.Duration) {
	a.emitter.EmitOperation(OperationEvent{
		AdapterID:  a.id,
		Subject:    subject,
		Operation:  op,
		Mode:       opts.Mode,
		TrackingID: opts.TrackingID,
		Result:     kind,
		Count:      count,
		Runtime:    runtime,
		Timestamp:  opts.Timestamp,
	})
}

func (a *Adapter) pendingData() int {
	n := 0
	for _, k := range a.kinds {
		n += k.Counts().Data()
	}
	return n
}

func (a *Adapter) pendingFast() int {
	n := 0
	for _, k := range a.kinds {
		n += k.Counts().FastStatus
	}
	return n
}

// skip reports whether a cycle has nothing to do or the partner asked to
// skip it.
func (a *Adapter) skip(cycle string, pending int) bool {
	if pending == 0 {
		return true
	}
	if s, ok := a.partner.(FlushSkipper); ok {
		return s.SkipFlush(cycle)
	}
	return false
}

func (a *Adapter) skipCDRs() bool {
	if a.cfg.DisableSendChargeDetailRecords || a.sendCDRs == nil {
		return true
	}
	return a.skip(CycleCDR, a.cdrs.Len())
}

func (a *Adapter) snapshot(drain func(kindQueue) job) []job {
	jobs := make([]job, 0, len(a.kinds))
	for _, k := range a.kinds {
		if j := drain(k); j.size() > 0 {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// flushJobs pushes every job even when an earlier one fails; rejected
// entities are reported as warnings.
func (a *Adapter) flushJobs(ctx context.Context, cycle string, jobs []job) error {
	var warnings []string
	var errs []error
	for _, j := range jobs {
		w, err := j.push(ctx)
		warnings = append(warnings, w...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(warnings) > 0 {
		a.emitter.EmitWarnings(a.id, cycle, a.now(), warnings)
	}
	return joinErrors(errs)
}

func (a *Adapter) flushCDRs(ctx context.Context, cdrs []*domain.ChargeDetailRecord) error {
	if len(cdrs) == 0 {
		return nil
	}
	b, err := a.sendCDRs(ctx, cdrs)
	if w := rejected(b, func(c *domain.ChargeDetailRecord) string { return "cdr " + c.ID }); len(w) > 0 {
		a.emitter.EmitWarnings(a.id, CycleCDR, a.now(), w)
	}
	if err != nil {
		return fmt.Errorf("send %d charge detail records: %w", len(cdrs), err)
	}
	return nil
}

// joinErrors keeps a single error unwrapped so its cause stays reachable
// through errors.Unwrap.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return errors.Join(errs...)
}

func rejected[T any](b outcome.Batch[T], name func(T) string) []string {
	var out []string
	for _, r := range b.Rejected() {
		out = append(out, fmt.Sprintf("%s: %s", name(r.Subject()), r.Description()))
	}
	return out
}
