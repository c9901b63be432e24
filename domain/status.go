package domain

// StatusValue is the constraint satisfied by every status enumeration.
type StatusValue interface {
	~string
}

// EVSEStatus is the operational status of a single EVSE.
type EVSEStatus string

const (
	EVSEStatusUnknown      EVSEStatus = "Unknown"
	EVSEStatusAvailable    EVSEStatus = "Available"
	EVSEStatusReserved     EVSEStatus = "Reserved"
	EVSEStatusCharging     EVSEStatus = "Charging"
	EVSEStatusBlocked      EVSEStatus = "Blocked"
	EVSEStatusOutOfService EVSEStatus = "OutOfService"
	EVSEStatusOffline      EVSEStatus = "Offline"
	EVSEStatusError        EVSEStatus = "Error"
)

// InfrastructureStatus is the operational status of operators, pools,
// stations and roaming networks.
type InfrastructureStatus string

const (
	InfrastructureStatusUnknown      InfrastructureStatus = "Unknown"
	InfrastructureStatusAvailable    InfrastructureStatus = "Available"
	InfrastructureStatusUnavailable  InfrastructureStatus = "Unavailable"
	InfrastructureStatusOutOfService InfrastructureStatus = "OutOfService"
	InfrastructureStatusOffline      InfrastructureStatus = "Offline"
)

// AdminStatus is the administrative status shared by every entity kind.
type AdminStatus string

const (
	AdminStatusUnknown      AdminStatus = "Unknown"
	AdminStatusOperational  AdminStatus = "Operational"
	AdminStatusInternalUse  AdminStatus = "InternalUse"
	AdminStatusOutOfService AdminStatus = "OutOfService"
	AdminStatusPlanned      AdminStatus = "Planned"
	AdminStatusBlocked      AdminStatus = "Blocked"
)

var evseStatuses = map[EVSEStatus]bool{
	EVSEStatusUnknown: true, EVSEStatusAvailable: true, EVSEStatusReserved: true, EVSEStatusCharging: true,
	EVSEStatusBlocked: true, EVSEStatusOutOfService: true, EVSEStatusOffline: true, EVSEStatusError: true,
}

var infrastructureStatuses = map[InfrastructureStatus]bool{
	InfrastructureStatusUnknown: true, InfrastructureStatusAvailable: true, InfrastructureStatusUnavailable: true,
	InfrastructureStatusOutOfService: true, InfrastructureStatusOffline: true,
}

var adminStatuses = map[AdminStatus]bool{
	AdminStatusUnknown: true, AdminStatusOperational: true, AdminStatusInternalUse: true,
	AdminStatusOutOfService: true, AdminStatusPlanned: true, AdminStatusBlocked: true,
}

func (s EVSEStatus) Valid() bool           { return evseStatuses[s] }
func (s InfrastructureStatus) Valid() bool { return infrastructureStatuses[s] }
func (s AdminStatus) Valid() bool          { return adminStatuses[s] }
