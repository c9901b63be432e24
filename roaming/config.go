package roaming

import (
	"time"

	"wwcpsync/domain"
	"wwcpsync/flush"
)

// Cycle names.
const (
	CycleDataAndStatus = "evse-data-and-status"
	CycleFastStatus    = "evse-fast-status"
	CycleCDR           = "charge-detail-records"
)

// Config is the construction-time configuration of an Adapter. Zero
// intervals and timeouts take their defaults.
type Config struct {
	DefaultMode TransmissionMode

	FlushEVSEDataAndStatusEvery   time.Duration
	FlushEVSEFastStatusEvery      time.Duration
	FlushChargeDetailRecordsEvery time.Duration
	FlushTimeout                  time.Duration
	RequestTimeout                time.Duration

	DisablePushData                bool
	DisablePushStatus              bool
	DisablePushAdminStatus         bool
	DisableSendChargeDetailRecords bool
	DisableAutoFlush               bool

	IncludeRoamingNetworks   func(*domain.RoamingNetwork) bool
	IncludeOperators         func(*domain.ChargingStationOperator) bool
	IncludeChargingPools     func(*domain.ChargingPool) bool
	IncludeChargingStations  func(*domain.ChargingStation) bool
	IncludeEVSEs             func(*domain.EVSE) bool
	IncludeEVSEIDs           func(domain.EVSEID) bool
	ChargeDetailRecordFilter func(*domain.ChargeDetailRecord) domain.CDRFilterDecision

	Emitter Emitter
	Now     func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DefaultMode == DefaultMode {
		c.DefaultMode = Enqueue
	}
	if c.FlushEVSEDataAndStatusEvery <= 0 {
		c.FlushEVSEDataAndStatusEvery = flush.DefaultDataAndStatusEvery
	}
	if c.FlushEVSEFastStatusEvery <= 0 {
		c.FlushEVSEFastStatusEvery = flush.DefaultFastStatusEvery
	}
	if c.FlushChargeDetailRecordsEvery <= 0 {
		c.FlushChargeDetailRecordsEvery = flush.DefaultCDREvery
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Emitter == nil {
		c.Emitter = nopEmitter{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
