package roaming

import (
	"fmt"
	"strings"
	"time"

	"wwcpsync/domain"
)

// DefaultRequestTimeout bounds a Direct-mode partner call.
const DefaultRequestTimeout = 30 * time.Second

// TransmissionMode selects whether an operation reaches the partner now or
// with the next flush.
type TransmissionMode int

const (
	// DefaultMode uses the adapter's configured mode.
	DefaultMode TransmissionMode = iota
	Direct
	Enqueue
)

func (m TransmissionMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Enqueue:
		return "enqueue"
	}
	return "default"
}

// ParseTransmissionMode accepts the String form of a mode; "" is DefaultMode.
func ParseTransmissionMode(s string) (TransmissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return DefaultMode, nil
	case "direct":
		return Direct, nil
	case "enqueue":
		return Enqueue, nil
	}
	return DefaultMode, fmt.Errorf("unknown transmission mode %q", s)
}

// Options tune a single operation. The zero value is valid.
type Options struct {
	Mode       TransmissionMode
	Timestamp  time.Time
	TrackingID domain.EventTrackingID
	Timeout    time.Duration
}
