package roaming

import (
	"context"

	"wwcpsync/domain"
	"wwcpsync/outcome"
	"wwcpsync/queue"
)

// Partner is a roaming partner the adapter synchronizes with. Support for
// each entity kind is declared by implementing the matching optional
// interface below; kinds without one are answered with NoOperation.
type Partner interface {
	ID() string
	Name() string
}

type (
	InfrastructureStatusBatch = queue.StatusBatch[domain.InfrastructureStatus, domain.AdminStatus]
	EVSEStatusBatch           = queue.StatusBatch[domain.EVSEStatus, domain.AdminStatus]
)

type RoamingNetworkDataPusher interface {
	PushRoamingNetworkData(ctx context.Context, p queue.Pending[*domain.RoamingNetwork]) (outcome.Batch[*domain.RoamingNetwork], error)
}

type RoamingNetworkStatusPusher interface {
	PushRoamingNetworkStatus(ctx context.Context, b InfrastructureStatusBatch) (outcome.Batch[string], error)
}

type OperatorDataPusher interface {
	PushOperatorData(ctx context.Context, p queue.Pending[*domain.ChargingStationOperator]) (outcome.Batch[*domain.ChargingStationOperator], error)
}

type OperatorStatusPusher interface {
	PushOperatorStatus(ctx context.Context, b InfrastructureStatusBatch) (outcome.Batch[string], error)
}

type PoolDataPusher interface {
	PushPoolData(ctx context.Context, p queue.Pending[*domain.ChargingPool]) (outcome.Batch[*domain.ChargingPool], error)
}

type PoolStatusPusher interface {
	PushPoolStatus(ctx context.Context, b InfrastructureStatusBatch) (outcome.Batch[string], error)
}

type StationDataPusher interface {
	PushStationData(ctx context.Context, p queue.Pending[*domain.ChargingStation]) (outcome.Batch[*domain.ChargingStation], error)
}

type StationStatusPusher interface {
	PushStationStatus(ctx context.Context, b InfrastructureStatusBatch) (outcome.Batch[string], error)
}

type EVSEDataPusher interface {
	PushEVSEData(ctx context.Context, p queue.Pending[*domain.EVSE]) (outcome.Batch[*domain.EVSE], error)
}

type EVSEStatusPusher interface {
	PushEVSEStatus(ctx context.Context, b EVSEStatusBatch) (outcome.Batch[string], error)
}

// CDRSender is implemented by partners accepting charge detail records.
type CDRSender interface {
	SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord) (outcome.Batch[*domain.ChargeDetailRecord], error)
}

// FlushSkipper lets a partner skip a cycle that has queued work, for
// example during a maintenance window.
type FlushSkipper interface {
	SkipFlush(cycle string) bool
}

// Pinger reports partner reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
