package protocol

import (
	"encoding/json"
	"log/slog"
	"time"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler receives decoded inbound messages.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandlePushAck(env *Envelope, p *PushAck)
	HandleStatusReport(env *Envelope, p *StatusReport)
	HandleCDRSubmit(env *Envelope, p *CDRSubmit)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	logger  *slog.Logger
}

func NewIngestor(handler MessageHandler, filter FilterFunc, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		handler: handler,
		filter:  filter,
		logger:  logger,
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.logger.Warn("protocol: header decode error", "error", err)
		return
	}

	if hdr.Expired(time.Now()) {
		ing.logger.Info("protocol: dropping expired message", "id", hdr.ID, "type", hdr.Type)
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	env, err := Decode(data)
	if err != nil {
		ing.logger.Warn("protocol: envelope rejected", "id", hdr.ID, "error", err)
		return
	}

	switch env.Type {
	case TypePushAck:
		decodeAndCall(ing, ing.handler.HandlePushAck, env)
	case TypeStatusReport:
		decodeAndCall(ing, ing.handler.HandleStatusReport, env)
	case TypeCDRSubmit:
		decodeAndCall(ing, ing.handler.HandleCDRSubmit, env)
	default:
		ing.logger.Warn("protocol: unknown message type", "type", env.Type)
	}
}

func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := env.DecodePayload(&p); err != nil {
		ing.logger.Warn("protocol: payload rejected", "id", env.ID, "error", err)
		return
	}
	fn(env, &p)
}
