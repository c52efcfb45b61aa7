package session

// State is the lifecycle state of a session record.
//
// Transitions: Pending -> Active -> {Expired, Terminated, Quarantined}.
// Quarantined may return to Active only through explicit re-authentication,
// or move to Terminated. Expired and Terminated are terminal.
type State uint8

const (
	// StatePending marks a session whose claims are verified but whose
	// device/tenant checks are still in progress.
	StatePending State = iota
	// StateActive marks a session with issued tokens.
	StateActive
	// StateExpired marks a session past its absolute expiry. Terminal.
	StateExpired
	// StateTerminated marks an explicitly revoked session. Terminal.
	StateTerminated
	// StateQuarantined marks a session held by an anomaly decision.
	StateQuarantined
)

// String returns the wire name of the state as stored in Redis.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	case StateQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// ParseState maps a stored state name back to its State value.
func ParseState(name string) (State, bool) {
	switch name {
	case "pending":
		return StatePending, true
	case "active":
		return StateActive, true
	case "expired":
		return StateExpired, true
	case "terminated":
		return StateTerminated, true
	case "quarantined":
		return StateQuarantined, true
	default:
		return 0, false
	}
}

// Session is the authoritative record of one authenticated
// user/device/tenant context. Instances are owned by [Store]; callers must
// not mutate them outside Store operations.
type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	DeviceID  string

	State         State
	SecurityLevel uint8
	IP            string

	// Generation identifies the currently valid refresh-token chain.
	// It only moves forward, through [Store.RotateGeneration].
	Generation int64

	CreatedAt      int64
	LastAccessedAt int64
	ExpiresAt      int64

	TerminatedAt    int64
	TerminateReason string

	// Last known activity location, used for travel-speed scoring.
	LastLat       float64
	LastLon       float64
	LastCountry   string
	LastSeenAt    int64
	HasLastCoords bool
}
