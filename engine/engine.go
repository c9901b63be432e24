// Package engine composes the roaming adapters of every configured partner
// with the entity registry, persistence, cache, metrics and the inbound
// message feed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wwcpsync/config"
	"wwcpsync/domain"
	"wwcpsync/metrics"
	"wwcpsync/protocol"
	"wwcpsync/roaming"
	"wwcpsync/statecache"
	"wwcpsync/store"
)

const healthInterval = 30 * time.Second

// Store is the persistence the engine writes to; *store.DB implements it.
type Store interface {
	AppendAudit(entityType, entityID, action, oldValue, newValue, actor string) error
	RecordFlushRun(r *store.FlushRun) error
}

// Cache is the live-state mirror; *statecache.RedisStore implements it.
type Cache interface {
	SetStatus(ctx context.Context, kind domain.EntityKind, s statecache.EntityState) error
	SetCycle(ctx context.Context, c statecache.CycleState) error
	SetQueueDepths(ctx context.Context, adapterID string, depths map[string]int) error
}

// Messenger is the bus client side the engine uses for the inbound feed.
type Messenger interface {
	Subscribe(topic string, handler func(payload []byte)) error
	IsConnected() bool
}

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         Store
	Cache      Cache
	Metrics    *metrics.Recorder
	MsgClient  Messenger
	Logger     *slog.Logger
}

type Engine struct {
	cfg        *config.Config
	configPath string
	db         Store
	cache      Cache
	metrics    *metrics.Recorder
	msgClient  Messenger
	logger     *slog.Logger
	Events     *EventBus
	registry   *Registry

	mu       sync.RWMutex
	adapters []*roaming.Adapter
	byID     map[string]*roaming.Adapter

	healthMu     sync.Mutex
	partnerUp    map[string]bool
	msgConnected bool

	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(c Config) *Engine {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		cache:      c.Cache,
		metrics:    c.Metrics,
		msgClient:  c.MsgClient,
		logger:     logger,
		Events:     NewEventBus(logger),
		byID:       make(map[string]*roaming.Adapter),
		partnerUp:  make(map[string]bool),
		stopChan:   make(chan struct{}),
	}
	e.registry = newRegistry(e)
	e.wireEventHandlers()
	return e
}

// AddPartner builds the adapter of a partner and registers it. Adapter
// telemetry flows through the engine's EventBus; entities registered
// earlier are not replayed to the new adapter.
func (e *Engine) AddPartner(p roaming.Partner, cfg roaming.Config) (*roaming.Adapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[p.ID()]; ok {
		return nil, fmt.Errorf("engine: duplicate partner id %q", p.ID())
	}
	cfg.Emitter = &adapterEmitter{bus: e.Events}
	a := roaming.New(p, cfg)
	e.adapters = append(e.adapters, a)
	e.byID[a.ID()] = a
	return a, nil
}

// Start launches the flush cycles of every adapter, the inbound feed and
// the connection health loop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	for _, a := range e.Adapters() {
		a.Start(ctx)
	}

	if e.msgClient != nil && e.cfg != nil {
		ing := protocol.NewIngestor(&inboundHandler{eng: e}, inboundFilter(e.cfg.NodeID), e.logger)
		if err := e.msgClient.Subscribe(e.cfg.Messaging.IngestTopic, ing.HandleRaw); err != nil {
			return fmt.Errorf("engine: subscribe %s: %w", e.cfg.Messaging.IngestTopic, err)
		}
		if t := e.cfg.Messaging.AckTopic; t != "" && t != e.cfg.Messaging.IngestTopic {
			if err := e.msgClient.Subscribe(t, ing.HandleRaw); err != nil {
				return fmt.Errorf("engine: subscribe %s: %w", t, err)
			}
		}
	}

	e.checkConnectionStatus(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.connectionHealthLoop(ctx)
	}()

	e.logger.Info("engine: started", "adapters", len(e.Adapters()))
	return nil
}

func (e *Engine) Stop() {
	select {
	case e.stopChan <- struct{}{}:
	default:
	}
	if e.cancel != nil {
		e.cancel()
	}
	for _, a := range e.Adapters() {
		a.Stop()
	}
	e.wg.Wait()
	e.logger.Info("engine: stopped")
}

// Accessors
func (e *Engine) AppConfig() *config.Config  { return e.cfg }
func (e *Engine) ConfigPath() string         { return e.configPath }
func (e *Engine) Registry() *Registry        { return e.registry }
func (e *Engine) Metrics() *metrics.Recorder { return e.metrics }
func (e *Engine) Logger() *slog.Logger       { return e.logger }

func (e *Engine) Adapters() []*roaming.Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*roaming.Adapter(nil), e.adapters...)
}

func (e *Engine) Adapter(id string) (*roaming.Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.byID[id]
	return a, ok
}

// AdapterHealth reports the last observed reachability per adapter id.
func (e *Engine) AdapterHealth() map[string]bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	out := make(map[string]bool, len(e.partnerUp))
	for id, up := range e.partnerUp {
		out[id] = up
	}
	return out
}

func (e *Engine) MessagingConnected() bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.msgConnected
}

func (e *Engine) AdapterIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) checkConnectionStatus(ctx context.Context) {
	for _, a := range e.Adapters() {
		err := a.Ping(ctx)

		e.healthMu.Lock()
		was, seen := e.partnerUp[a.ID()]
		e.partnerUp[a.ID()] = err == nil
		e.healthMu.Unlock()

		switch {
		case err == nil && (!seen || !was):
			e.Events.Emit(Event{Type: EventPartnerConnected, Payload: ConnectionEvent{PartnerID: a.ID(), Detail: a.Name() + " reachable"}})
		case err != nil && (!seen || was):
			e.Events.Emit(Event{Type: EventPartnerDisconnected, Payload: ConnectionEvent{PartnerID: a.ID(), Detail: err.Error()}})
		}
	}

	if e.msgClient == nil {
		return
	}
	connected := e.msgClient.IsConnected()
	e.healthMu.Lock()
	changed := connected != e.msgConnected
	e.msgConnected = connected
	e.healthMu.Unlock()
	if !changed {
		return
	}
	if connected {
		e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
	} else {
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkConnectionStatus(ctx)
			e.publishQueueDepths(ctx)
		}
	}
}

// publishQueueDepths mirrors pending counts to the cache and metrics.
func (e *Engine) publishQueueDepths(ctx context.Context) {
	for _, a := range e.Adapters() {
		depths := make(map[string]int)
		for kind, c := range a.Counts() {
			n := c.Data() + c.FastStatus
			depths[kind.String()] = n
			e.metrics.QueueDepth(a.ID(), kind.String(), n)
		}
		depths["charge_detail_record"] = a.PendingChargeDetailRecords()
		e.metrics.QueueDepth(a.ID(), "charge_detail_record", depths["charge_detail_record"])
		if e.cache != nil {
			if err := e.cache.SetQueueDepths(ctx, a.ID(), depths); err != nil {
				e.logger.Warn("engine: cache queue depths", "adapter", a.ID(), "error", err)
			}
		}
	}
}
