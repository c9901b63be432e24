package protocol

// Message types.
const (
	// Sync -> partner
	TypeDataPush   = "roaming.data"
	TypeStatusPush = "roaming.status"
	TypeCDRPush    = "roaming.cdrs"

	// Partner -> sync
	TypePushAck = "roaming.ack"

	// Operator backend -> sync (ingest topic)
	TypeStatusReport = "infra.status_report"
	TypeCDRSubmit    = "infra.cdr_submit"
)

// Roles for Address.Role.
const (
	RoleSync     = "sync"
	RolePartner  = "partner"
	RoleOperator = "operator"
)

// Protocol version.
const Version = 1
