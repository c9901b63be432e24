package domain

import (
	"strconv"

	"wwcpsync/status"
)

// Entity is the view of an infrastructure entity needed by the
// synchronization core.
type Entity interface {
	Key() string
	EntityID() string
	Kind() EntityKind
	ParentID() string
	DisplayName() string
	Attributes() map[string]string
}

type RoamingNetwork struct {
	ID          RoamingNetworkID                       `json:"id"`
	Name        string                                 `json:"name"`
	Status      *status.Schedule[InfrastructureStatus] `json:"status"`
	AdminStatus *status.Schedule[AdminStatus]          `json:"admin_status"`
}

func NewRoamingNetwork(id RoamingNetworkID, name string) (*RoamingNetwork, error) {
	id, err := ParseRoamingNetworkID(string(id))
	if err != nil {
		return nil, err
	}
	return &RoamingNetwork{
		ID:          id,
		Name:        name,
		Status:      status.NewWithInitial(status.DefaultMaxSize, InfrastructureStatusOutOfService),
		AdminStatus: status.NewWithInitial(status.DefaultMaxSize, AdminStatusOutOfService),
	}, nil
}

func (n *RoamingNetwork) Key() string         { return Key(n.ID) }
func (n *RoamingNetwork) EntityID() string    { return string(n.ID) }
func (n *RoamingNetwork) Kind() EntityKind    { return KindRoamingNetwork }
func (n *RoamingNetwork) ParentID() string    { return "" }
func (n *RoamingNetwork) DisplayName() string { return n.Name }
func (n *RoamingNetwork) Attributes() map[string]string {
	return map[string]string{}
}

type ChargingStationOperator struct {
	ID               OperatorID                             `json:"id"`
	RoamingNetworkID RoamingNetworkID                       `json:"roaming_network_id"`
	Name             string                                 `json:"name"`
	Hotline          string                                 `json:"hotline,omitempty"`
	Status           *status.Schedule[InfrastructureStatus] `json:"status"`
	AdminStatus      *status.Schedule[AdminStatus]          `json:"admin_status"`
}

func NewChargingStationOperator(id OperatorID, network RoamingNetworkID, name string) (*ChargingStationOperator, error) {
	id, err := ParseOperatorID(string(id))
	if err != nil {
		return nil, err
	}
	return &ChargingStationOperator{
		ID:               id,
		RoamingNetworkID: network,
		Name:             name,
		Status:           status.NewWithInitial(status.DefaultMaxSize, InfrastructureStatusOutOfService),
		AdminStatus:      status.NewWithInitial(status.DefaultMaxSize, AdminStatusOutOfService),
	}, nil
}

func (o *ChargingStationOperator) Key() string         { return Key(o.ID) }
func (o *ChargingStationOperator) EntityID() string    { return string(o.ID) }
func (o *ChargingStationOperator) Kind() EntityKind    { return KindOperator }
func (o *ChargingStationOperator) ParentID() string    { return string(o.RoamingNetworkID) }
func (o *ChargingStationOperator) DisplayName() string { return o.Name }
func (o *ChargingStationOperator) Attributes() map[string]string {
	attrs := map[string]string{}
	if o.Hotline != "" {
		attrs["hotline"] = o.Hotline
	}
	return attrs
}

type ChargingPool struct {
	ID          PoolID                                 `json:"id"`
	OperatorID  OperatorID                             `json:"operator_id"`
	Name        string                                 `json:"name"`
	Address     string                                 `json:"address,omitempty"`
	Latitude    float64                                `json:"latitude,omitempty"`
	Longitude   float64                                `json:"longitude,omitempty"`
	Status      *status.Schedule[InfrastructureStatus] `json:"status"`
	AdminStatus *status.Schedule[AdminStatus]          `json:"admin_status"`
}

func NewChargingPool(id PoolID, operator OperatorID, name string) (*ChargingPool, error) {
	id, err := ParsePoolID(string(id))
	if err != nil {
		return nil, err
	}
	return &ChargingPool{
		ID:          id,
		OperatorID:  operator,
		Name:        name,
		Status:      status.NewWithInitial(status.DefaultMaxSize, InfrastructureStatusOutOfService),
		AdminStatus: status.NewWithInitial(status.DefaultMaxSize, AdminStatusOutOfService),
	}, nil
}

func (p *ChargingPool) Key() string         { return Key(p.ID) }
func (p *ChargingPool) EntityID() string    { return string(p.ID) }
func (p *ChargingPool) Kind() EntityKind    { return KindPool }
func (p *ChargingPool) ParentID() string    { return string(p.OperatorID) }
func (p *ChargingPool) DisplayName() string { return p.Name }
func (p *ChargingPool) Attributes() map[string]string {
	attrs := map[string]string{}
	if p.Address != "" {
		attrs["address"] = p.Address
	}
	if p.Latitude != 0 || p.Longitude != 0 {
		attrs["latitude"] = strconv.FormatFloat(p.Latitude, 'f', 6, 64)
		attrs["longitude"] = strconv.FormatFloat(p.Longitude, 'f', 6, 64)
	}
	return attrs
}

type ChargingStation struct {
	ID          StationID                              `json:"id"`
	PoolID      PoolID                                 `json:"pool_id"`
	Name        string                                 `json:"name"`
	Status      *status.Schedule[InfrastructureStatus] `json:"status"`
	AdminStatus *status.Schedule[AdminStatus]          `json:"admin_status"`
}

func NewChargingStation(id StationID, pool PoolID, name string) (*ChargingStation, error) {
	id, err := ParseStationID(string(id))
	if err != nil {
		return nil, err
	}
	return &ChargingStation{
		ID:          id,
		PoolID:      pool,
		Name:        name,
		Status:      status.NewWithInitial(status.DefaultMaxSize, InfrastructureStatusOutOfService),
		AdminStatus: status.NewWithInitial(status.DefaultMaxSize, AdminStatusOutOfService),
	}, nil
}

func (s *ChargingStation) Key() string         { return Key(s.ID) }
func (s *ChargingStation) EntityID() string    { return string(s.ID) }
func (s *ChargingStation) Kind() EntityKind    { return KindStation }
func (s *ChargingStation) ParentID() string    { return string(s.PoolID) }
func (s *ChargingStation) DisplayName() string { return s.Name }
func (s *ChargingStation) Attributes() map[string]string {
	return map[string]string{}
}

// EVSE is a single charging point. Its status histories are created with the
// EVSE and seeded as out of service.
type EVSE struct {
	ID          EVSEID                        `json:"id"`
	StationID   StationID                     `json:"station_id"`
	MaxPowerKW  float64                       `json:"max_power_kw,omitempty"`
	Connectors  []string                      `json:"connectors,omitempty"`
	Status      *status.Schedule[EVSEStatus]  `json:"status"`
	AdminStatus *status.Schedule[AdminStatus] `json:"admin_status"`
}

func NewEVSE(id EVSEID, station StationID) (*EVSE, error) {
	id, err := ParseEVSEID(string(id))
	if err != nil {
		return nil, err
	}
	return &EVSE{
		ID:          id,
		StationID:   station,
		Status:      status.NewWithInitial(status.DefaultMaxSize, EVSEStatusOutOfService),
		AdminStatus: status.NewWithInitial(status.DefaultMaxSize, AdminStatusOutOfService),
	}, nil
}

func (e *EVSE) Key() string         { return Key(e.ID) }
func (e *EVSE) EntityID() string    { return string(e.ID) }
func (e *EVSE) Kind() EntityKind    { return KindEVSE }
func (e *EVSE) ParentID() string    { return string(e.StationID) }
func (e *EVSE) DisplayName() string { return string(e.ID) }
func (e *EVSE) Attributes() map[string]string {
	attrs := map[string]string{}
	if e.MaxPowerKW > 0 {
		attrs["max_power_kw"] = strconv.FormatFloat(e.MaxPowerKW, 'f', -1, 64)
	}
	for i, c := range e.Connectors {
		attrs["connector."+strconv.Itoa(i+1)] = c
	}
	return attrs
}
