package engine

import (
	"context"
	"fmt"

	"wwcpsync/domain"
	"wwcpsync/protocol"
	"wwcpsync/roaming"
)

// inboundHandler applies messages from the operator backend and partner
// acknowledgements arriving on the bus.
type inboundHandler struct {
	protocol.NoOpHandler
	eng *Engine
}

func (h *inboundHandler) HandleStatusReport(env *protocol.Envelope, p *protocol.StatusReport) {
	tid := domain.EventTrackingID(env.ID)
	at := p.Timestamp
	if at.IsZero() {
		at = env.Timestamp
	}
	id := domain.EVSEID(p.EVSEID)
	var err error
	if p.Status != "" {
		err = h.eng.registry.SetEVSEStatus(id, domain.EVSEStatus(p.Status), at, tid)
	}
	if err == nil && p.Admin != "" {
		err = h.eng.registry.SetEVSEAdminStatus(id, domain.AdminStatus(p.Admin), at, tid)
	}
	h.done(env.Type, err)
	if err != nil {
		h.eng.logger.Warn("engine: status report rejected", "evse", p.EVSEID, "id", env.ID, "error", err)
	}
}

func (h *inboundHandler) HandleCDRSubmit(env *protocol.Envelope, p *protocol.CDRSubmit) {
	cdr := p.Record
	b := h.eng.registry.SendChargeDetailRecords(context.Background(), []*domain.ChargeDetailRecord{&cdr},
		roaming.Options{TrackingID: domain.EventTrackingID(env.ID)})
	var err error
	if !b.Kind().Benign() {
		err = fmt.Errorf("cdr %s: %s: %s", cdr.ID, b.Kind(), b.Description())
		h.eng.logger.Warn("engine: cdr submit not accepted", "cdr", cdr.ID, "result", b.Kind().String(), "description", b.Description())
	}
	h.done(env.Type, err)
}

func (h *inboundHandler) HandlePushAck(env *protocol.Envelope, p *protocol.PushAck) {
	h.eng.Events.Emit(Event{Type: EventPushAck, Timestamp: env.Timestamp, Payload: PushAckEvent{
		PartnerID:  p.PartnerID,
		Kind:       p.Kind,
		TrackingID: p.TrackingID,
		Accepted:   p.Accepted,
		Rejected:   p.Rejected,
	}})
	h.done(env.Type, nil)
}

func (h *inboundHandler) done(msgType string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	h.eng.metrics.Inbound(msgType, result)
}

// inboundFilter accepts messages addressed to this sync node or to every
// sync node.
func inboundFilter(nodeID string) protocol.FilterFunc {
	return func(hdr *protocol.RawHeader) bool {
		if hdr.Dst.Role != "" && hdr.Dst.Role != protocol.RoleSync {
			return false
		}
		return hdr.Dst.Node == "" || hdr.Dst.Node == nodeID
	}
}
