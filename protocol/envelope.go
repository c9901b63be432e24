package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrUnsupportedVersion = errors.New("protocol: unsupported envelope version")

// Address identifies a message source or destination. An empty Node
// addresses every node of the role.
type Address struct {
	Role    string `json:"role"`
	Node    string `json:"node"`
	Network string `json:"network,omitempty"`
}

// Envelope wraps every message exchanged on the bus.
type Envelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Src       Address         `json:"src"`
	Dst       Address         `json:"dst"`
	Timestamp time.Time       `json:"ts"`
	ExpiresAt time.Time       `json:"exp"`
	CorID     string          `json:"cor,omitempty"`
	Payload   json.RawMessage `json:"p"`
}

// RawHeader is decoded first so routing and expiry can be decided without
// touching the payload.
type RawHeader struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Dst       Address   `json:"dst"`
	ExpiresAt time.Time `json:"exp"`
}

type Option func(*Envelope)

// CorrelatedWith marks the envelope as the answer to message id.
func CorrelatedWith(id string) Option {
	return func(e *Envelope) { e.CorID = id }
}

// ExpiresIn replaces the default TTL of the message type.
func ExpiresIn(ttl time.Duration) Option {
	return func(e *Envelope) { e.ExpiresAt = e.Timestamp.Add(ttl) }
}

func NewEnvelope(msgType string, src, dst Address, payload any, opts ...Option) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", msgType, err)
	}
	now := time.Now().UTC()
	env := &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.NewString(),
		Src:       src,
		Dst:       dst,
		Timestamp: now,
		ExpiresAt: now.Add(DefaultTTLFor(msgType)),
		Payload:   p,
	}
	for _, o := range opts {
		o(env)
	}
	return env, nil
}

// Decode parses a whole envelope and rejects versions newer than ours.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return &env, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Envelope) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", e.Type, err)
	}
	return nil
}
