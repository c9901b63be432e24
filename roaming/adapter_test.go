package roaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wwcpsync/domain"
	"wwcpsync/flush"
	"wwcpsync/outcome"
	"wwcpsync/queue"
)

// fakePartner accepts every entity kind and records what it receives.
type fakePartner struct {
	mu         sync.Mutex
	calls      []string
	poolData   []queue.Pending[*domain.ChargingPool]
	evseData   []queue.Pending[*domain.EVSE]
	evseStatus []EVSEStatusBatch
	cdrs       [][]*domain.ChargeDetailRecord
	block      bool
	err        error
	reject     map[string]bool
	skip       bool
}

func newFakePartner() *fakePartner { return &fakePartner{reject: map[string]bool{}} }

func (f *fakePartner) ID() string   { return "hubject" }
func (f *fakePartner) Name() string { return "Hubject" }

func (f *fakePartner) record(call string) (block bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.block, f.err
}

func (f *fakePartner) setBlock(b bool) {
	f.mu.Lock()
	f.block = b
	f.mu.Unlock()
}

func (f *fakePartner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func answer[T domain.Entity](f *fakePartner, p queue.Pending[T]) outcome.Batch[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rs []outcome.Result[T]
	for _, list := range [][]T{p.Add, p.Update, p.Remove} {
		for _, e := range list {
			if f.reject[e.Key()] {
				rs = append(rs, outcome.Error(e, p.TrackingID, errors.New("rejected by partner")))
				continue
			}
			rs = append(rs, outcome.Success(e, p.TrackingID))
		}
	}
	return outcome.Flatten(rs...)
}

func (f *fakePartner) PushPoolData(ctx context.Context, p queue.Pending[*domain.ChargingPool]) (outcome.Batch[*domain.ChargingPool], error) {
	block, err := f.record("pool.data")
	if block {
		<-ctx.Done()
		return outcome.Batch[*domain.ChargingPool]{}, ctx.Err()
	}
	f.mu.Lock()
	f.poolData = append(f.poolData, p)
	f.mu.Unlock()
	if err != nil {
		return outcome.Batch[*domain.ChargingPool]{}, err
	}
	return answer(f, p), nil
}

func (f *fakePartner) PushEVSEData(ctx context.Context, p queue.Pending[*domain.EVSE]) (outcome.Batch[*domain.EVSE], error) {
	block, err := f.record("evse.data")
	if block {
		<-ctx.Done()
		return outcome.Batch[*domain.EVSE]{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return outcome.Batch[*domain.EVSE]{}, err
	}
	f.mu.Lock()
	f.evseData = append(f.evseData, p)
	f.mu.Unlock()
	if err != nil {
		return outcome.Batch[*domain.EVSE]{}, err
	}
	return answer(f, p), nil
}

func (f *fakePartner) PushEVSEStatus(ctx context.Context, b EVSEStatusBatch) (outcome.Batch[string], error) {
	_, err := f.record("evse.status")
	f.mu.Lock()
	f.evseStatus = append(f.evseStatus, b)
	f.mu.Unlock()
	var rs []outcome.Result[string]
	for _, u := range b.Status {
		rs = append(rs, outcome.Success(u.EntityID, b.TrackingID))
	}
	for _, u := range b.Admin {
		rs = append(rs, outcome.Success(u.EntityID, b.TrackingID))
	}
	return outcome.Flatten(rs...), err
}

func (f *fakePartner) SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord) (outcome.Batch[*domain.ChargeDetailRecord], error) {
	_, err := f.record("cdr")
	f.mu.Lock()
	f.cdrs = append(f.cdrs, cdrs)
	f.mu.Unlock()
	var rs []outcome.Result[*domain.ChargeDetailRecord]
	for _, c := range cdrs {
		rs = append(rs, outcome.Success(c, ""))
	}
	return outcome.Flatten(rs...), err
}

func (f *fakePartner) SkipFlush(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skip
}

// evseOnly supports nothing but EVSE data.
type evseOnly struct{ f *fakePartner }

func (e evseOnly) ID() string   { return "evse-only" }
func (e evseOnly) Name() string { return "EVSE only" }
func (e evseOnly) PushEVSEData(ctx context.Context, p queue.Pending[*domain.EVSE]) (outcome.Batch[*domain.EVSE], error) {
	return e.f.PushEVSEData(ctx, p)
}

type mockEmitter struct {
	mu         sync.Mutex
	started    []flush.Started
	finished   []flush.Finished
	exceptions []flush.Failure
	warnings   [][]string
	ops        []OperationEvent
}

func (m *mockEmitter) EmitFlushStarted(_ string, s flush.Started) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, s)
}

func (m *mockEmitter) EmitFlushFinished(_ string, f flush.Finished) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, f)
}

func (m *mockEmitter) EmitAdapterException(_ string, f flush.Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptions = append(m.exceptions, f)
}

func (m *mockEmitter) EmitWarnings(_, _ string, _ time.Time, ws []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, ws)
}

func (m *mockEmitter) EmitOperation(ev OperationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, ev)
}

func (m *mockEmitter) exceptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exceptions)
}

func testPool(t *testing.T, id string) *domain.ChargingPool {
	t.Helper()
	p, err := domain.NewChargingPool(domain.PoolID(id), "DE*GEF", "Pool "+id)
	require.NoError(t, err)
	return p
}

func testEVSE(t *testing.T, id string) *domain.EVSE {
	t.Helper()
	e, err := domain.NewEVSE(domain.EVSEID(id), "DE*GEF*S1")
	require.NoError(t, err)
	return e
}

func testCDR(id string, operator domain.OperatorID) *domain.ChargeDetailRecord {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.ChargeDetailRecord{
		ID:         id,
		SessionID:  "session-" + id,
		EVSEID:     "DE*GEF*E1",
		OperatorID: operator,
		Start:      start,
		End:        start.Add(time.Hour),
		EnergyKWh:  12.5,
	}
}

func newTestAdapter(p Partner, cfg Config) (*Adapter, *mockEmitter) {
	em := &mockEmitter{}
	cfg.Emitter = em
	return New(p, cfg), em
}

func TestConcurrentEnqueuedAddQueuesPoolOnce(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})
	pool := testPool(t, "DE*GEF*P1")

	var wg sync.WaitGroup
	results := make([]outcome.Result[*domain.ChargingPool], 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Pools().Add(context.Background(), pool, Options{Mode: Enqueue})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, outcome.KindEnqueued, r.Kind())
	}
	assert.Equal(t, 1, a.Counts()[domain.KindPool].ToAdd)
	assert.Equal(t, queue.ToAdd, a.Pools().Membership(pool))
}

func TestIncludeFilterAnswersNoOperation(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{
		IncludeChargingPools: func(p *domain.ChargingPool) bool { return p.ID != "DE*GEF*P2" },
	})

	b := a.Pools().AddMany(context.Background(), []*domain.ChargingPool{
		testPool(t, "DE*GEF*P1"),
		testPool(t, "DE*GEF*P2"),
	}, Options{Mode: Enqueue})

	require.Equal(t, 2, b.Len())
	assert.Equal(t, outcome.KindPartial, b.Kind())
	assert.Equal(t, outcome.KindEnqueued, b.Results()[0].Kind())
	assert.Equal(t, outcome.KindNoOperation, b.Results()[1].Kind())
	assert.Equal(t, 1, a.Counts()[domain.KindPool].ToAdd)
}

func TestIncludeEVSEIDsFilter(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{
		IncludeEVSEIDs: func(id domain.EVSEID) bool { return id != "DE*GEF*E9" },
	})

	r := a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E9"), Options{})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())

	sb := a.EVSEs().UpdateStatus(context.Background(), []queue.StatusUpdate[domain.EVSEStatus]{{EntityID: "DE*GEF*E9"}}, Options{})
	assert.Equal(t, outcome.KindNoOperation, sb.Kind())
}

func TestUnsupportedKindIsNoOperation(t *testing.T) {
	a, _ := newTestAdapter(evseOnly{f: newFakePartner()}, Config{})

	r := a.Pools().Add(context.Background(), testPool(t, "DE*GEF*P1"), Options{Mode: Direct})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())
	assert.False(t, a.Pools().Supported())
	assert.True(t, a.EVSEs().Supported())

	b := a.SendChargeDetailRecords(context.Background(), []*domain.ChargeDetailRecord{testCDR("c1", "DE*GEF")}, Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())
}

func TestEmptyIdentifierIsArgumentError(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})

	r := a.EVSEs().Add(context.Background(), &domain.EVSE{ID: "  "}, Options{})
	assert.Equal(t, outcome.KindArgumentError, r.Kind())
	assert.Equal(t, "evse", r.Argument())
}

func TestDisablePushData(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{DisablePushData: true})

	r := a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{Mode: Direct})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())
	assert.Empty(t, p.Calls())
}

func TestDirectAddReachesPartnerAndMarksKnown(t *testing.T) {
	p := newFakePartner()
	a, em := newTestAdapter(p, Config{})
	evse := testEVSE(t, "DE*GEF*E1")
	tid := domain.EventTrackingID("op-1")

	r := a.EVSEs().Add(context.Background(), evse, Options{Mode: Direct, TrackingID: tid})
	assert.Equal(t, outcome.KindSuccess, r.Kind())
	assert.Equal(t, tid, r.TrackingID())
	require.Len(t, p.evseData, 1)
	assert.Equal(t, []*domain.EVSE{evse}, p.evseData[0].Add)
	assert.Equal(t, tid, p.evseData[0].TrackingID)

	again := a.EVSEs().AddIfNotExists(context.Background(), evse, Options{Mode: Direct})
	assert.Equal(t, outcome.KindNoOperation, again.Kind())

	up := a.EVSEs().AddOrUpdate(context.Background(), evse, Options{Mode: Direct})
	assert.Equal(t, outcome.KindSuccess, up.Kind())
	require.Len(t, p.evseData, 2)
	assert.Equal(t, []*domain.EVSE{evse}, p.evseData[1].Update)

	em.mu.Lock()
	defer em.mu.Unlock()
	require.Len(t, em.ops, 3)
	assert.Equal(t, "add", em.ops[0].Operation)
	assert.Equal(t, Direct, em.ops[0].Mode)
	assert.Equal(t, tid, em.ops[0].TrackingID)
}

func TestDirectRejectionIsReportedPerEntity(t *testing.T) {
	p := newFakePartner()
	p.reject["DE*GEF*E2"] = true
	a, _ := newTestAdapter(p, Config{})

	b := a.EVSEs().AddMany(context.Background(), []*domain.EVSE{testEVSE(t, "DE*GEF*E1"), testEVSE(t, "DE*GEF*E2")}, Options{Mode: Direct})
	assert.Equal(t, outcome.KindPartial, b.Kind())
	assert.Equal(t, outcome.KindSuccess, b.Results()[0].Kind())
	assert.Equal(t, outcome.KindError, b.Results()[1].Kind())
	assert.Len(t, b.Rejected(), 1)
}

func TestDirectTimeout(t *testing.T) {
	p := newFakePartner()
	p.block = true
	a, _ := newTestAdapter(p, Config{})

	r := a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{Mode: Direct, Timeout: 20 * time.Millisecond})
	assert.Equal(t, outcome.KindError, r.Kind())
	assert.ErrorIs(t, r.Err(), context.DeadlineExceeded)
}

func TestDirectCanceled(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := a.EVSEs().Add(ctx, testEVSE(t, "DE*GEF*E1"), Options{Mode: Direct})
	assert.Equal(t, outcome.KindCanceled, r.Kind())
}

func TestDeleteCancelsPendingAdd(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Add(context.Background(), evse, Options{}).Kind())
	r := a.EVSEs().Delete(context.Background(), evse, Options{})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())
	assert.Equal(t, queue.Counts{}, a.Counts()[domain.KindEVSE])
}

func TestDirectDeleteSupersedesPendingAdd(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Add(ctx, evse, Options{}).Kind())
	r := a.EVSEs().Delete(ctx, evse, Options{Mode: Direct})
	require.Equal(t, outcome.KindSuccess, r.Kind())
	assert.Equal(t, queue.None, a.EVSEs().Membership(evse))

	run := a.FlushEVSEDataAndStatus(ctx)
	assert.Equal(t, flush.Skipped, run.State)
	require.Len(t, p.evseData, 1)
	assert.Equal(t, []*domain.EVSE{evse}, p.evseData[0].Remove)
	assert.Empty(t, p.evseData[0].Add)
}

func TestDirectAddSupersedesPendingRemoval(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindSuccess, a.EVSEs().Add(ctx, evse, Options{Mode: Direct}).Kind())
	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Delete(ctx, evse, Options{}).Kind())
	require.Equal(t, queue.ToRemove, a.EVSEs().Membership(evse))

	require.Equal(t, outcome.KindSuccess, a.EVSEs().Add(ctx, evse, Options{Mode: Direct}).Kind())
	assert.Equal(t, queue.None, a.EVSEs().Membership(evse))
	assert.Equal(t, flush.Skipped, a.FlushEVSEDataAndStatus(ctx).State)
	assert.Len(t, p.evseData, 2)
}

func TestFailedDirectPushKeepsQueue(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Add(ctx, evse, Options{}).Kind())
	p.err = errors.New("partner down")
	r := a.EVSEs().Delete(ctx, evse, Options{Mode: Direct})
	require.Equal(t, outcome.KindError, r.Kind())
	assert.Equal(t, queue.ToAdd, a.EVSEs().Membership(evse))
}

func TestDirectAddIfNotExistsSkipsPendingEntity(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Add(ctx, evse, Options{}).Kind())
	r := a.EVSEs().AddIfNotExists(ctx, evse, Options{Mode: Direct})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())
	assert.Empty(t, p.Calls())
	assert.Equal(t, queue.ToAdd, a.EVSEs().Membership(evse))
}

func TestFailedFlushLeavesEntitiesUnknown(t *testing.T) {
	p := newFakePartner()
	p.err = errors.New("partner down")
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E2")

	a.EVSEs().Add(ctx, evse, Options{})
	require.Equal(t, flush.Failed, a.FlushEVSEDataAndStatus(ctx).State)
	assert.False(t, a.EVSEs().queues.Known(evse.Key()))

	assert.Equal(t, outcome.KindEnqueued, a.EVSEs().AddIfNotExists(ctx, evse, Options{}).Kind())
	assert.Equal(t, queue.ToAdd, a.EVSEs().Membership(evse))
	a.EVSEs().AddOrUpdate(ctx, evse, Options{})
	assert.Equal(t, queue.ToAdd, a.EVSEs().Membership(evse))
}

func TestFlushMarksOnlyAcceptedEntitiesKnown(t *testing.T) {
	p := newFakePartner()
	p.reject["DE*GEF*E2"] = true
	a, _ := newTestAdapter(p, Config{})
	ctx := context.Background()
	e1, e2 := testEVSE(t, "DE*GEF*E1"), testEVSE(t, "DE*GEF*E2")

	a.EVSEs().AddMany(ctx, []*domain.EVSE{e1, e2}, Options{})
	require.Equal(t, flush.Completed, a.FlushEVSEDataAndStatus(ctx).State)

	assert.Equal(t, outcome.KindNoOperation, a.EVSEs().AddIfNotExists(ctx, e1, Options{}).Kind())
	assert.Equal(t, outcome.KindEnqueued, a.EVSEs().AddIfNotExists(ctx, e2, Options{}).Kind())

	a.EVSEs().Delete(ctx, e1, Options{})
	delete(p.reject, "DE*GEF*E2")
	require.Equal(t, flush.Completed, a.FlushEVSEDataAndStatus(ctx).State)
	assert.False(t, a.EVSEs().queues.Known(e1.Key()))
	assert.True(t, a.EVSEs().queues.Known(e2.Key()))
}

func TestUpdateOfPendingRemovalIsNoOperation(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	evse := testEVSE(t, "DE*GEF*E1")

	require.Equal(t, outcome.KindSuccess, a.EVSEs().Add(context.Background(), evse, Options{Mode: Direct}).Kind())
	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Delete(context.Background(), evse, Options{}).Kind())

	r := a.EVSEs().Update(context.Background(), evse, Options{}, queue.PropertyChange{Name: "max_power_kw", Old: 11.0, New: 22.0})
	assert.Equal(t, outcome.KindNoOperation, r.Kind())
	assert.Equal(t, 1, a.Counts()[domain.KindEVSE].ToRemove)
	assert.Zero(t, a.Counts()[domain.KindEVSE].Properties)
}

func TestDataFlushSendsDataBeforeDelayedStatus(t *testing.T) {
	p := newFakePartner()
	a, em := newTestAdapter(p, Config{})
	ctx := context.Background()
	evse := testEVSE(t, "DE*GEF*E1")

	unwatch := a.EVSEs().Watch(evse, evse.Status, evse.AdminStatus)
	defer unwatch()

	require.Equal(t, outcome.KindEnqueued, a.EVSEs().Add(ctx, evse, Options{}).Kind())
	evse.Status.Insert(domain.EVSEStatusAvailable, time.Now().Add(time.Second), "status-1")

	c := a.Counts()[domain.KindEVSE]
	assert.Equal(t, 1, c.DelayedStatus)
	assert.Zero(t, c.FastStatus)

	run := a.FlushEVSEDataAndStatus(ctx)
	require.Equal(t, flush.Completed, run.State)
	assert.Equal(t, []string{"evse.data", "evse.status"}, p.Calls())
	require.Len(t, p.evseStatus, 1)
	require.Len(t, p.evseStatus[0].Status, 1)
	assert.Equal(t, domain.EVSEStatusAvailable, p.evseStatus[0].Status[0].New.Value)
	assert.Equal(t, p.evseData[0].TrackingID, p.evseStatus[0].TrackingID)
	assert.Equal(t, queue.Counts{}, a.Counts()[domain.KindEVSE])

	em.mu.Lock()
	assert.Len(t, em.started, 1)
	assert.Len(t, em.finished, 1)
	em.mu.Unlock()

	// The EVSE is known now, so the next change takes the fast lane.
	evse.Status.Insert(domain.EVSEStatusCharging, time.Now().Add(2*time.Second), "status-2")
	assert.Equal(t, 1, a.Counts()[domain.KindEVSE].FastStatus)

	fast := a.FlushEVSEFastStatus(ctx)
	require.Equal(t, flush.Completed, fast.State)
	require.Len(t, p.evseStatus, 2)
	assert.Equal(t, domain.EVSEStatusCharging, p.evseStatus[1].Status[0].New.Value)
	assert.Equal(t, domain.EventTrackingID("status-2"), p.evseStatus[1].Status[0].TrackingID)
}

func TestWatchStopsAfterUnwatch(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})
	evse := testEVSE(t, "DE*GEF*E1")
	a.EVSEs().queues.MarkKnown(evse.Key(), true)

	unwatch := a.EVSEs().Watch(evse, evse.Status, nil)
	evse.Status.Insert(domain.EVSEStatusAvailable, time.Now().Add(time.Second), "")
	unwatch()
	evse.Status.Insert(domain.EVSEStatusCharging, time.Now().Add(2*time.Second), "")

	assert.Equal(t, 1, a.Counts()[domain.KindEVSE].FastStatus)
}

func TestFlushSkippedWhenNothingQueued(t *testing.T) {
	p := newFakePartner()
	a, em := newTestAdapter(p, Config{})

	for _, run := range []flush.Run{
		a.FlushEVSEDataAndStatus(context.Background()),
		a.FlushEVSEFastStatus(context.Background()),
		a.FlushChargeDetailRecords(context.Background()),
	} {
		assert.Equal(t, flush.Skipped, run.State)
	}
	assert.Empty(t, p.Calls())
	assert.Empty(t, em.started)
}

func TestPartnerCanSkipFlush(t *testing.T) {
	p := newFakePartner()
	p.skip = true
	a, _ := newTestAdapter(p, Config{})

	a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{})
	run := a.FlushEVSEDataAndStatus(context.Background())
	assert.Equal(t, flush.Skipped, run.State)
	assert.Equal(t, 1, a.Counts()[domain.KindEVSE].ToAdd)
}

func TestFlushTimeoutRaisesOneException(t *testing.T) {
	p := newFakePartner()
	p.block = true
	a, em := newTestAdapter(p, Config{FlushTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	a.EVSEs().Add(ctx, testEVSE(t, "DE*GEF*E1"), Options{})
	run := a.FlushEVSEDataAndStatus(ctx)
	require.Equal(t, flush.Failed, run.State)
	assert.ErrorIs(t, run.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, em.exceptionCount())

	p.setBlock(false)
	a.EVSEs().Add(ctx, testEVSE(t, "DE*GEF*E2"), Options{})
	next := a.FlushEVSEDataAndStatus(ctx)
	assert.Equal(t, flush.Completed, next.State)
	assert.Equal(t, 1, em.exceptionCount())
}

func TestFlushRejectionsBecomeWarnings(t *testing.T) {
	p := newFakePartner()
	p.reject["DE*GEF*E2"] = true
	a, em := newTestAdapter(p, Config{})
	ctx := context.Background()

	a.EVSEs().AddMany(ctx, []*domain.EVSE{testEVSE(t, "DE*GEF*E1"), testEVSE(t, "DE*GEF*E2")}, Options{})
	run := a.FlushEVSEDataAndStatus(ctx)
	require.Equal(t, flush.Completed, run.State)

	em.mu.Lock()
	defer em.mu.Unlock()
	require.Len(t, em.warnings, 1)
	require.Len(t, em.warnings[0], 1)
	assert.Contains(t, em.warnings[0][0], "evse DE*GEF*E2")
}

func TestPartnerErrorDuringFlushKeepsCause(t *testing.T) {
	p := newFakePartner()
	boom := errors.New("partner unavailable")
	p.err = boom
	a, em := newTestAdapter(p, Config{})

	a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{})
	run := a.FlushEVSEDataAndStatus(context.Background())
	require.Equal(t, flush.Failed, run.State)
	assert.Equal(t, boom, run.Err)
	assert.Equal(t, 1, em.exceptionCount())
}

func TestChargeDetailRecordsFilterAndFlush(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{
		ChargeDetailRecordFilter: func(c *domain.ChargeDetailRecord) domain.CDRFilterDecision {
			if c.OperatorID == "DE*BAD" {
				return domain.CDRFilter
			}
			return domain.CDRForward
		},
	})
	ctx := context.Background()

	invalid := testCDR("c3", "DE*GEF")
	invalid.SessionID = ""
	b := a.SendChargeDetailRecords(ctx, []*domain.ChargeDetailRecord{
		testCDR("c1", "DE*GEF"),
		testCDR("c2", "DE*BAD"),
		invalid,
	}, Options{})

	require.Equal(t, 3, b.Len())
	assert.Equal(t, outcome.KindEnqueued, b.Results()[0].Kind())
	assert.Equal(t, outcome.KindNoOperation, b.Results()[1].Kind())
	assert.Equal(t, outcome.KindArgumentError, b.Results()[2].Kind())
	assert.Equal(t, 1, a.PendingChargeDetailRecords())

	run := a.FlushChargeDetailRecords(ctx)
	require.Equal(t, flush.Completed, run.State)
	require.Len(t, p.cdrs, 1)
	assert.Equal(t, "c1", p.cdrs[0][0].ID)
	assert.Zero(t, a.PendingChargeDetailRecords())
}

func TestChargeDetailRecordsDirect(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})

	b := a.SendChargeDetailRecords(context.Background(), []*domain.ChargeDetailRecord{testCDR("c1", "DE*GEF")}, Options{Mode: Direct})
	assert.Equal(t, outcome.KindSuccess, b.Kind())
	assert.Equal(t, []string{"cdr"}, p.Calls())
}

func TestDisableSendChargeDetailRecords(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{DisableSendChargeDetailRecords: true})

	b := a.SendChargeDetailRecords(context.Background(), []*domain.ChargeDetailRecord{testCDR("c1", "DE*GEF")}, Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())
	assert.Zero(t, a.PendingChargeDetailRecords())
}

func TestStatusDisabledAxes(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{DisablePushAdminStatus: true})
	updates := []queue.StatusUpdate[domain.AdminStatus]{{EntityID: "DE*GEF*E1"}}

	b := a.EVSEs().UpdateAdminStatus(context.Background(), updates, Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())

	s := a.EVSEs().UpdateStatus(context.Background(), []queue.StatusUpdate[domain.EVSEStatus]{{EntityID: "DE*GEF*E1"}}, Options{})
	assert.Equal(t, outcome.KindEnqueued, s.Kind())
}

func TestStatusOfPendingRemovalIsDropped(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})
	evse := testEVSE(t, "DE*GEF*E1")
	a.EVSEs().Add(context.Background(), evse, Options{Mode: Direct})
	a.EVSEs().Delete(context.Background(), evse, Options{})

	b := a.EVSEs().UpdateStatus(context.Background(), []queue.StatusUpdate[domain.EVSEStatus]{{EntityID: "de*gef*e1"}}, Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())
	c := a.Counts()[domain.KindEVSE]
	assert.Zero(t, c.FastStatus+c.DelayedStatus)
}

func TestDirectStatusPush(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})

	b := a.EVSEs().UpdateStatus(context.Background(), []queue.StatusUpdate[domain.EVSEStatus]{{EntityID: "DE*GEF*E1"}, {EntityID: ""}}, Options{Mode: Direct})
	assert.Equal(t, outcome.KindPartial, b.Kind())
	assert.Equal(t, outcome.KindSuccess, b.Results()[0].Kind())
	assert.Equal(t, outcome.KindArgumentError, b.Results()[1].Kind())
	assert.Equal(t, []string{"evse.status"}, p.Calls())
}

func TestFlushByName(t *testing.T) {
	a, _ := newTestAdapter(newFakePartner(), Config{})

	run, err := a.Flush(context.Background(), CycleFastStatus)
	require.NoError(t, err)
	assert.Equal(t, flush.Skipped, run.State)

	_, err = a.Flush(context.Background(), "hourly")
	assert.Error(t, err)

	stats := a.CycleStats()
	assert.Equal(t, uint64(1), stats[CycleFastStatus].Skipped)
}

func TestDefaultModeIsEnqueue(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{})

	r := a.Pools().Add(context.Background(), testPool(t, "DE*GEF*P1"), Options{})
	assert.Equal(t, outcome.KindEnqueued, r.Kind())
	assert.NotEmpty(t, r.TrackingID())
	assert.Empty(t, p.Calls())

	d, _ := newTestAdapter(p, Config{DefaultMode: Direct})
	r = d.Pools().Add(context.Background(), testPool(t, "DE*GEF*P1"), Options{})
	assert.Equal(t, outcome.KindSuccess, r.Kind())
}

func TestStartAndStopAutoFlush(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{
		FlushEVSEDataAndStatusEvery: 10 * time.Millisecond,
	})
	a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{})

	a.Start(context.Background())
	require.Eventually(t, func() bool {
		return a.Counts()[domain.KindEVSE].ToAdd == 0
	}, time.Second, 5*time.Millisecond)
	a.Stop()

	assert.Contains(t, p.Calls(), "evse.data")
}

func TestDisableAutoFlush(t *testing.T) {
	p := newFakePartner()
	a, _ := newTestAdapter(p, Config{
		DisableAutoFlush:            true,
		FlushEVSEDataAndStatusEvery: 5 * time.Millisecond,
	})
	a.EVSEs().Add(context.Background(), testEVSE(t, "DE*GEF*E1"), Options{})

	a.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	a.Stop()

	assert.Empty(t, p.Calls())
	assert.Equal(t, 1, a.Counts()[domain.KindEVSE].ToAdd)
}

func TestParseTransmissionMode(t *testing.T) {
	for in, want := range map[string]TransmissionMode{"": DefaultMode, "Direct": Direct, " enqueue ": Enqueue} {
		got, err := ParseTransmissionMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTransmissionMode("later")
	assert.Error(t, err)
}
