package policy

// Action is the enforcement outcome of a policy evaluation.
type Action uint8

const (
	// ActionAllow admits the candidate activity.
	ActionAllow Action = iota
	// ActionWarn admits the activity but flags it for review.
	ActionWarn
	// ActionStepUp demands re-authentication before continuing.
	ActionStepUp
	// ActionQuarantine holds the session pending re-authentication.
	ActionQuarantine
	// ActionTerminate denies the activity and ends the session.
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionStepUp:
		return "step_up_auth"
	case ActionQuarantine:
		return "quarantine"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Decision reasons.
const (
	ReasonCountryBlocked  = "country_blocked"
	ReasonCountryUnknown  = "country_unknown"
	ReasonDeviceUntrusted = "device_untrusted"
	ReasonConcurrentLimit = "concurrent_limit"
	ReasonRiskFlagged     = "risk_flagged"
	ReasonRiskStepUp      = "risk_step_up"
	ReasonRiskQuarantine  = "risk_quarantine"
)

// Decision is the result of one evaluation.
type Decision struct {
	Action Action
	Reason string
}

var allow = Decision{Action: ActionAllow}

// EvalInput is the candidate state a policy is evaluated against. Device
// trust arrives as a pre-resolved flag so this package stays free of the
// device package.
type EvalInput struct {
	// Country is the resolved activity country; CountryKnown is false when
	// geolocation was unavailable or the IP did not resolve.
	Country      string
	CountryKnown bool

	// DeviceTrusted reports whether the device meets the trusted level.
	DeviceTrusted bool

	// ActiveSessions counts the user's current sessions, excluding the
	// candidate.
	ActiveSessions int

	// RiskScore is the latest assessment; HasRisk is false on paths that
	// did not score (pure admission checks).
	RiskScore float64
	HasRisk   bool
}

// Evaluate runs the ordered policy checks against a candidate session or
// activity. Checks short-circuit on the first failure and are never merged
// or averaged: country allow/block list, then device trust, then the
// concurrent-session limit, then the risk band. Evaluate is a pure
// function; enforcement is the caller's job.
func Evaluate(p Policy, in EvalInput) Decision {
	if d, ok := countryCheck(p, in); !ok {
		return d
	}

	if p.RequireDeviceTrust && !in.DeviceTrusted {
		return Decision{Action: ActionTerminate, Reason: ReasonDeviceUntrusted}
	}

	if p.MaxConcurrentSessions > 0 && in.ActiveSessions >= p.MaxConcurrentSessions {
		return Decision{Action: ActionTerminate, Reason: ReasonConcurrentLimit}
	}

	if in.HasRisk {
		return BandDecision(in.RiskScore, p.RiskThresholds)
	}
	return allow
}

// BandDecision maps a risk score to its enforcement band.
func BandDecision(score float64, t Thresholds) Decision {
	switch {
	case score > t.Quarantine:
		return Decision{Action: ActionQuarantine, Reason: ReasonRiskQuarantine}
	case score >= t.StepUp:
		return Decision{Action: ActionStepUp, Reason: ReasonRiskStepUp}
	case score >= t.Flag:
		return Decision{Action: ActionWarn, Reason: ReasonRiskFlagged}
	default:
		return allow
	}
}

func countryCheck(p Policy, in EvalInput) (Decision, bool) {
	if len(p.AllowedCountries) == 0 && len(p.BlockedCountries) == 0 {
		return allow, true
	}
	if !in.CountryKnown {
		// Geofencing configured but location unknown: fail closed.
		return Decision{Action: ActionTerminate, Reason: ReasonCountryUnknown}, false
	}
	for _, blocked := range p.BlockedCountries {
		if in.Country == blocked {
			return Decision{Action: ActionTerminate, Reason: ReasonCountryBlocked}, false
		}
	}
	if len(p.AllowedCountries) > 0 {
		for _, allowed := range p.AllowedCountries {
			if in.Country == allowed {
				return allow, true
			}
		}
		return Decision{Action: ActionTerminate, Reason: ReasonCountryBlocked}, false
	}
	return allow, true
}
