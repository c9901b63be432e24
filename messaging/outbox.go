package messaging

import (
	"context"
	"log/slog"
	"time"

	"wwcpsync/store"
)

// OutboxStore is the persistence the drainer needs.
type OutboxStore interface {
	ListPendingOutbox(limit int) ([]*store.OutboxMessage, error)
	AckOutbox(id int64) error
	IncrementOutboxRetries(id int64) error
}

// Publisher sends raw payloads.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte) error
}

// OutboxDrainer periodically republishes parked messages.
type OutboxDrainer struct {
	db       OutboxStore
	client   Publisher
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stopChan chan struct{}
}

// DefaultDrainInterval is used when the drainer is given a non-positive interval.
const DefaultDrainInterval = 5 * time.Second

func NewOutboxDrainer(db OutboxStore, client Publisher, interval time.Duration, logger *slog.Logger) *OutboxDrainer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		batch:    50,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.run()
}

func (d *OutboxDrainer) Stop() {
	select {
	case d.stopChan <- struct{}{}:
	default:
	}
}

func (d *OutboxDrainer) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain(context.Background())
		}
	}
}

// Drain publishes one batch of pending messages and returns how many
// were sent.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(d.batch)
	if err != nil {
		d.logger.Error("outbox: list pending", "error", err)
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.client.PublishContext(ctx, msg.Topic, msg.Payload); err != nil {
			d.logger.Warn("outbox: publish failed", "topic", msg.Topic, "id", msg.ID, "error", err)
			if err := d.db.IncrementOutboxRetries(msg.ID); err != nil {
				d.logger.Error("outbox: increment retries", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			d.logger.Error("outbox: ack", "id", msg.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
