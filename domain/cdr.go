package domain

import (
	"fmt"
	"time"
)

// ChargeDetailRecord is the billing record of a finished charging session.
type ChargeDetailRecord struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	EVSEID     EVSEID     `json:"evse_id"`
	OperatorID OperatorID `json:"operator_id"`
	AuthToken  string     `json:"auth_token,omitempty"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	EnergyKWh  float64    `json:"energy_kwh"`
}

// Validate checks the fields every partner requires.
func (c *ChargeDetailRecord) Validate() error {
	switch {
	case c.SessionID == "":
		return fmt.Errorf("cdr %s: missing session id", c.ID)
	case Key(c.EVSEID) == "":
		return fmt.Errorf("cdr %s: %w", c.ID, ErrEmptyID)
	case c.End.Before(c.Start):
		return fmt.Errorf("cdr %s: end %s before start %s", c.ID, c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	case c.EnergyKWh < 0:
		return fmt.Errorf("cdr %s: negative energy %.3f", c.ID, c.EnergyKWh)
	}
	return nil
}

func (c *ChargeDetailRecord) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// CDRFilterDecision tells whether a record is forwarded to a partner.
type CDRFilterDecision int

const (
	CDRForward CDRFilterDecision = iota
	CDRFilter
)

func (c *ChargeDetailRecord) EntityID() string {
	if c == nil {
		return ""
	}
	return c.ID
}
