package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wwcpsync/config"
	"wwcpsync/domain"
	"wwcpsync/flush"
	"wwcpsync/outcome"
	"wwcpsync/protocol"
	"wwcpsync/queue"
	"wwcpsync/roaming"
	"wwcpsync/statecache"
	"wwcpsync/store"
)

type fakePartner struct {
	id      string
	mu      sync.Mutex
	evses   []queue.Pending[*domain.EVSE]
	cdrs    int
	err     error
	pingErr error
}

func (p *fakePartner) ID() string   { return p.id }
func (p *fakePartner) Name() string { return "Partner " + p.id }

func (p *fakePartner) PushEVSEData(ctx context.Context, pending queue.Pending[*domain.EVSE]) (outcome.Batch[*domain.EVSE], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evses = append(p.evses, pending)
	var rs []outcome.Result[*domain.EVSE]
	for _, list := range [][]*domain.EVSE{pending.Add, pending.Update, pending.Remove} {
		for _, e := range list {
			rs = append(rs, outcome.Success(e, pending.TrackingID))
		}
	}
	return outcome.Flatten(rs...), p.err
}

func (p *fakePartner) PushEVSEStatus(ctx context.Context, b roaming.EVSEStatusBatch) (outcome.Batch[string], error) {
	var rs []outcome.Result[string]
	for _, u := range b.Status {
		rs = append(rs, outcome.Success(u.EntityID, b.TrackingID))
	}
	return outcome.Flatten(rs...), nil
}

func (p *fakePartner) SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord) (outcome.Batch[*domain.ChargeDetailRecord], error) {
	p.mu.Lock()
	p.cdrs += len(cdrs)
	p.mu.Unlock()
	var rs []outcome.Result[*domain.ChargeDetailRecord]
	for _, c := range cdrs {
		rs = append(rs, outcome.Success(c, ""))
	}
	return outcome.Flatten(rs...), nil
}

func (p *fakePartner) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pingErr
}

type auditEntry struct {
	entityType, entityID, action, newValue, actor string
}

type fakeStore struct {
	mu    sync.Mutex
	audit []auditEntry
	runs  []store.FlushRun
}

func (s *fakeStore) AppendAudit(entityType, entityID, action, oldValue, newValue, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, auditEntry{entityType, entityID, action, newValue, actor})
	return nil
}

func (s *fakeStore) RecordFlushRun(r *store.FlushRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *r)
	return nil
}

func (s *fakeStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.audit {
		out = append(out, a.entityType+":"+a.action)
	}
	return out
}

type fakeCache struct {
	mu       sync.Mutex
	statuses []statecache.EntityState
	cycles   []statecache.CycleState
	depths   map[string]map[string]int
}

func (c *fakeCache) SetStatus(ctx context.Context, kind domain.EntityKind, s statecache.EntityState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
	return nil
}

func (c *fakeCache) SetCycle(ctx context.Context, s statecache.CycleState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles = append(c.cycles, s)
	return nil
}

func (c *fakeCache) SetQueueDepths(ctx context.Context, adapterID string, depths map[string]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depths == nil {
		c.depths = make(map[string]map[string]int)
	}
	c.depths[adapterID] = depths
	return nil
}

type testEnv struct {
	eng      *Engine
	db       *fakeStore
	cache    *fakeCache
	partners []*fakePartner
}

func newTestEnv(t *testing.T, partnerIDs ...string) *testEnv {
	t.Helper()
	env := &testEnv{db: &fakeStore{}, cache: &fakeCache{}}
	env.eng = New(Config{AppConfig: config.Defaults(), DB: env.db, Cache: env.cache})
	for _, id := range partnerIDs {
		p := &fakePartner{id: id}
		_, err := env.eng.AddPartner(p, roaming.Config{})
		require.NoError(t, err)
		env.partners = append(env.partners, p)
	}
	return env
}

func testEVSE(t *testing.T, id string) *domain.EVSE {
	t.Helper()
	e, err := domain.NewEVSE(domain.EVSEID(id), "DE*GEF*S1")
	require.NoError(t, err)
	return e
}

func TestEventBusOrderFilterAndPanic(t *testing.T) {
	bus := NewEventBus(nil)
	var got []string
	bus.Subscribe(func(Event) { got = append(got, "all") })
	bus.Subscribe(func(Event) { panic("boom") })
	id := bus.SubscribeTypes(func(Event) { got = append(got, "ops") }, EventOperation)
	bus.SubscribeTypes(func(Event) { got = append(got, "flush") }, EventFlushFinished)

	bus.Emit(Event{Type: EventOperation})
	assert.Equal(t, []string{"all", "ops"}, got)

	bus.Unsubscribe(id)
	got = nil
	bus.Emit(Event{Type: EventOperation})
	assert.Equal(t, []string{"all"}, got)
}

func TestAddPartnerRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t, "hubject")
	_, err := env.eng.AddPartner(&fakePartner{id: "hubject"}, roaming.Config{})
	assert.Error(t, err)
	assert.Equal(t, []string{"hubject"}, env.eng.AdapterIDs())
}

func TestRegisterEVSEFansOutToEveryAdapter(t *testing.T) {
	env := newTestEnv(t, "hubject", "gireve")
	e := testEVSE(t, "DE*GEF*E1")

	b := env.eng.Registry().RegisterEVSE(context.Background(), e, roaming.Options{})
	assert.Equal(t, outcome.KindEnqueued, b.Kind())
	assert.Equal(t, 2, b.Len())

	for _, a := range env.eng.Adapters() {
		assert.Equal(t, queue.ToAdd, a.EVSEs().Membership(e))
	}
	assert.Contains(t, env.db.actions(), "evse:registered")

	got, ok := env.eng.Registry().EVSE("de*gef*e1")
	require.True(t, ok)
	assert.Same(t, e, got)
}

func TestRegisterRecordsActor(t *testing.T) {
	env := newTestEnv(t, "hubject")
	ctx := WithActor(context.Background(), "alice")
	env.eng.Registry().RegisterEVSE(ctx, testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	env.eng.Registry().RemoveEVSE(context.Background(), "DE*GEF*E1", roaming.Options{})

	env.db.mu.Lock()
	defer env.db.mu.Unlock()
	var actors []string
	for _, a := range env.db.audit {
		if a.entityType == "evse" {
			actors = append(actors, a.action+":"+a.actor)
		}
	}
	assert.Equal(t, []string{"registered:alice", "removed:system"}, actors)
}

func TestRegisterEmptyID(t *testing.T) {
	env := newTestEnv(t, "hubject")
	b := env.eng.Registry().RegisterEVSE(context.Background(), &domain.EVSE{}, roaming.Options{})
	assert.Equal(t, outcome.KindArgumentError, b.Kind())
	assert.Equal(t, 0, env.eng.Registry().Len(domain.KindEVSE))
}

func TestStatusChangesReachAdaptersAndCache(t *testing.T) {
	env := newTestEnv(t, "hubject", "gireve")
	e := testEVSE(t, "DE*GEF*E1")
	env.eng.Registry().RegisterEVSE(context.Background(), e, roaming.Options{})

	at := time.Now().Add(time.Second)
	require.NoError(t, env.eng.Registry().SetEVSEStatus("DE*GEF*E1", domain.EVSEStatusCharging, at, "report-1"))

	for _, a := range env.eng.Adapters() {
		// pending add, so the update waits for the data flush
		assert.Equal(t, 1, a.Counts()[domain.KindEVSE].DelayedStatus)
	}
	require.Len(t, env.cache.statuses, 1)
	assert.Equal(t, "Charging", env.cache.statuses[0].Status)
	assert.Equal(t, "report-1", env.cache.statuses[0].TrackingID)

	v, ok := env.eng.Registry().Status(domain.KindEVSE, "DE*GEF*E1")
	require.True(t, ok)
	assert.Equal(t, "Charging", v.Status)
	assert.Equal(t, "OutOfService", v.AdminStatus)
}

func TestSetStatusErrors(t *testing.T) {
	env := newTestEnv(t, "hubject")
	err := env.eng.Registry().SetEVSEStatus("DE*GEF*NOPE", domain.EVSEStatusAvailable, time.Now(), "")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	err = env.eng.Registry().SetEVSEStatus("DE*GEF*E1", domain.EVSEStatus("Exploded"), time.Now(), "")
	assert.Error(t, err)
}

func TestRemoveEVSEStopsWatching(t *testing.T) {
	env := newTestEnv(t, "hubject")
	e := testEVSE(t, "DE*GEF*E1")
	env.eng.Registry().RegisterEVSE(context.Background(), e, roaming.Options{})

	b := env.eng.Registry().RemoveEVSE(context.Background(), "DE*GEF*E1", roaming.Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())
	assert.Contains(t, env.db.actions(), "evse:removed")

	e.Status.Insert(domain.EVSEStatusAvailable, time.Now().Add(time.Second), "")
	a := env.eng.Adapters()[0]
	assert.Equal(t, queue.Counts{}, a.Counts()[domain.KindEVSE])

	b = env.eng.Registry().RemoveEVSE(context.Background(), "DE*GEF*E1", roaming.Options{})
	assert.Equal(t, outcome.KindNoOperation, b.Kind())
}

func TestUpdateUnregistered(t *testing.T) {
	env := newTestEnv(t, "hubject")
	b := env.eng.Registry().UpdateEVSE(context.Background(), testEVSE(t, "DE*GEF*E9"), roaming.Options{})
	assert.Equal(t, outcome.KindArgumentError, b.Kind())
}

func TestFlushRunsArePersisted(t *testing.T) {
	env := newTestEnv(t, "hubject")
	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	a, ok := env.eng.Adapter("hubject")
	require.True(t, ok)

	run := a.FlushEVSEDataAndStatus(context.Background())
	require.NoError(t, run.Err)

	require.Len(t, env.db.runs, 1)
	assert.Equal(t, "completed", env.db.runs[0].State)
	assert.Equal(t, roaming.CycleDataAndStatus, env.db.runs[0].Cycle)
	assert.Equal(t, uint64(1), env.db.runs[0].RunID)
	require.Len(t, env.cache.cycles, 1)
	assert.Equal(t, "completed", env.cache.cycles[0].State)
	require.Len(t, env.partners[0].evses, 1)
}

func TestAdapterExceptionIsAudited(t *testing.T) {
	env := newTestEnv(t, "hubject")
	env.partners[0].err = errors.New("partner unavailable")
	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	a, _ := env.eng.Adapter("hubject")

	run := a.FlushEVSEDataAndStatus(context.Background())
	require.Error(t, run.Err)

	require.Len(t, env.db.runs, 1)
	assert.Equal(t, "failed", env.db.runs[0].State)
	assert.Equal(t, "partner unavailable", env.db.runs[0].Error)
	assert.Equal(t, run.Start, env.db.runs[0].StartedAt)
	assert.Equal(t, run.End, env.db.runs[0].FinishedAt)
	assert.Contains(t, env.db.actions(), "adapter:exception")
}

func TestCanceledRunIsNotPersisted(t *testing.T) {
	env := newTestEnv(t, "hubject")
	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	a, _ := env.eng.Adapter("hubject")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.partners[0].err = context.Canceled
	run := a.FlushEVSEDataAndStatus(ctx)
	require.Equal(t, flush.Canceled, run.State)
	assert.Empty(t, env.db.runs)
	assert.Empty(t, env.cache.cycles)
}

func TestSendChargeDetailRecordsMerges(t *testing.T) {
	env := newTestEnv(t, "hubject", "gireve")
	cdr := &domain.ChargeDetailRecord{ID: "cdr-1", SessionID: "s1", EVSEID: "DE*GEF*E1"}

	b := env.eng.Registry().SendChargeDetailRecords(context.Background(), []*domain.ChargeDetailRecord{cdr}, roaming.Options{Mode: roaming.Direct})
	assert.Equal(t, outcome.KindSuccess, b.Kind())
	assert.Equal(t, 2, b.Len())
	for _, p := range env.partners {
		assert.Equal(t, 1, p.cdrs)
	}
}

func TestInboundStatusReport(t *testing.T) {
	env := newTestEnv(t, "hubject")
	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})
	h := &inboundHandler{eng: env.eng}

	at := time.Now().Add(time.Minute).UTC()
	env1, err := protocol.NewEnvelope(protocol.TypeStatusReport,
		protocol.Address{Role: protocol.RoleOperator, Node: "backend"},
		protocol.Address{Role: protocol.RoleSync},
		protocol.StatusReport{EVSEID: "DE*GEF*E1", Status: "Available", Admin: "Operational", Timestamp: at})
	require.NoError(t, err)
	var p protocol.StatusReport
	require.NoError(t, env1.DecodePayload(&p))

	h.HandleStatusReport(env1, &p)

	e, _ := env.eng.Registry().EVSE("DE*GEF*E1")
	assert.Equal(t, domain.EVSEStatusAvailable, e.Status.Value())
	assert.Equal(t, domain.AdminStatusOperational, e.AdminStatus.Value())
}

func TestInboundPushAckAuditsRejections(t *testing.T) {
	env := newTestEnv(t, "hubject")
	h := &inboundHandler{eng: env.eng}
	var acks []PushAckEvent
	env.eng.Events.SubscribeTypes(func(evt Event) { acks = append(acks, evt.Payload.(PushAckEvent)) }, EventPushAck)

	h.HandlePushAck(&protocol.Envelope{ID: "m1", Timestamp: time.Now()}, &protocol.PushAck{
		PartnerID: "gireve",
		Kind:      "evse",
		Rejected:  map[string]string{"DE*GEF*E1": "unknown station"},
	})
	require.Len(t, acks, 1)
	assert.Contains(t, env.db.actions(), "evse:rejected")
}

func TestInboundFilter(t *testing.T) {
	f := inboundFilter("sync-1")
	assert.True(t, f(&protocol.RawHeader{Dst: protocol.Address{Role: protocol.RoleSync}}))
	assert.True(t, f(&protocol.RawHeader{Dst: protocol.Address{Role: protocol.RoleSync, Node: "sync-1"}}))
	assert.False(t, f(&protocol.RawHeader{Dst: protocol.Address{Role: protocol.RoleSync, Node: "sync-2"}}))
	assert.False(t, f(&protocol.RawHeader{Dst: protocol.Address{Role: protocol.RolePartner}}))
}

func TestConnectionEvents(t *testing.T) {
	env := newTestEnv(t, "hubject")
	var events []EventType
	env.eng.Events.SubscribeTypes(func(evt Event) { events = append(events, evt.Type) }, EventPartnerConnected, EventPartnerDisconnected)

	env.eng.checkConnectionStatus(context.Background())
	env.eng.checkConnectionStatus(context.Background())
	env.partners[0].pingErr = errors.New("timeout")
	env.eng.checkConnectionStatus(context.Background())

	assert.Equal(t, []EventType{EventPartnerConnected, EventPartnerDisconnected}, events)
	assert.Equal(t, map[string]bool{"hubject": false}, env.eng.AdapterHealth())
}

func TestPublishQueueDepths(t *testing.T) {
	env := newTestEnv(t, "hubject")
	env.eng.Registry().RegisterEVSE(context.Background(), testEVSE(t, "DE*GEF*E1"), roaming.Options{})

	env.eng.publishQueueDepths(context.Background())
	assert.Equal(t, 1, env.cache.depths["hubject"]["evse"])
	assert.Equal(t, 0, env.cache.depths["hubject"]["charge_detail_record"])
}
