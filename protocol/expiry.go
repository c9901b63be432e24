package protocol

import "time"

// Status goes stale quickly; billing records must survive broker outages.
var defaultTTLs = map[string]time.Duration{
	TypeStatusPush:   2 * time.Minute,
	TypeStatusReport: 2 * time.Minute,

	TypeDataPush: 30 * time.Minute,
	TypePushAck:  10 * time.Minute,

	TypeCDRPush:   24 * time.Hour,
	TypeCDRSubmit: 24 * time.Hour,
}

const FallbackTTL = 10 * time.Minute

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// Expired reports whether now is past the expiry. Envelopes without one
// never expire.
func (e *Envelope) Expired(now time.Time) bool { return expiredAt(e.ExpiresAt, now) }

func (h *RawHeader) Expired(now time.Time) bool { return expiredAt(h.ExpiresAt, now) }

func expiredAt(exp, now time.Time) bool {
	return !exp.IsZero() && now.After(exp)
}
