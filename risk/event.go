package risk

import (
	"context"
	"time"
)

// EventKind classifies a session activity event.
type EventKind string

const (
	EventLogin             EventKind = "login"
	EventRequest           EventKind = "request"
	EventRefresh           EventKind = "refresh"
	EventValidationFailure EventKind = "validation_failure"
	EventReauth            EventKind = "reauth"
)

// Location is a resolved geolocation for an activity event.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`

	// Anonymizer marks VPN/Tor/proxy exits as flagged by the lookup
	// service.
	Anonymizer bool `json:"anonymizer,omitempty"`
}

// Event is one append-only session activity record.
type Event struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	IP        string    `json:"ip,omitempty"`
	Location  *Location `json:"location,omitempty"`

	// RiskContribution is filled in after scoring, before the event is
	// appended to the session history.
	RiskContribution float64 `json:"risk_contribution,omitempty"`
}

// GeoLookup resolves an IP address to a location. Implementations are
// external collaborators (IP-reputation or geolocation services); lookup
// failure makes location-dependent checks fail closed at the call site.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}
