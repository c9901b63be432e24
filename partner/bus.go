package partner

import (
	"context"
	"fmt"
	"log/slog"

	"wwcpsync/protocol"
)

// Bus is the messaging client side the bus transport needs.
type Bus interface {
	PublishEnvelope(ctx context.Context, topic string, env interface{ Encode() ([]byte, error) }) error
	IsConnected() bool
}

// Outbox parks envelopes whose publish failed.
type Outbox interface {
	EnqueueOutbox(topic string, payload []byte, msgType, partnerID string) error
}

// BusTransport publishes protocol envelopes to a partner topic. Rejections
// arrive later as acks on the ack topic, so Send never returns one.
type BusTransport struct {
	partnerID string
	topic     string
	src       protocol.Address
	bus       Bus
	outbox    Outbox
	logger    *slog.Logger
}

func NewBusTransport(partnerID, topic string, src protocol.Address, bus Bus, outbox Outbox, logger *slog.Logger) *BusTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusTransport{
		partnerID: partnerID,
		topic:     topic,
		src:       src,
		bus:       bus,
		outbox:    outbox,
		logger:    logger,
	}
}

func (t *BusTransport) Name() string  { return "bus" }
func (t *BusTransport) Topic() string { return t.topic }

func (t *BusTransport) Healthy() bool { return t.bus.IsConnected() }

// Send publishes one envelope. A failed publish is parked in the outbox and
// still counts as delivered; only a failure to park it is an error.
func (t *BusTransport) Send(ctx context.Context, msgType string, payload any) (*protocol.PushAck, error) {
	env, err := protocol.NewEnvelope(msgType, t.src, protocol.Address{Role: protocol.RolePartner, Node: t.partnerID}, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s envelope: %w", msgType, err)
	}
	pubErr := t.bus.PublishEnvelope(ctx, t.topic, env)
	if pubErr == nil {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, pubErr
	}
	if t.outbox == nil {
		return nil, fmt.Errorf("publish %s: %w", msgType, pubErr)
	}
	data, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	if err := t.outbox.EnqueueOutbox(t.topic, data, msgType, t.partnerID); err != nil {
		return nil, fmt.Errorf("publish %s: %w (outbox: %v)", msgType, pubErr, err)
	}
	t.logger.Warn("partner: publish failed, parked in outbox", "partner", t.partnerID, "type", msgType, "error", pubErr)
	return nil, nil
}

func (t *BusTransport) Ping(ctx context.Context) error {
	if !t.bus.IsConnected() {
		return fmt.Errorf("bus transport for %s: messaging not connected", t.partnerID)
	}
	return nil
}
