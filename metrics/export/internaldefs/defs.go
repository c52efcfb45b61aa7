package internaldefs

import (
	sessionguard "github.com/sessionguard/sessionguard"
)

// CounterDef binds a MetricID to its exposition name and help text.
type CounterDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exposition name and
// help text.
type HistogramDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in snapshot order. Exporters iterate
// this slice so that both backends expose the same series set.
var CounterDefs = []CounterDef{
	{ID: sessionguard.MetricSessionCreated, Name: "sessionguard_session_created_total", Help: "Created sessions."},
	{ID: sessionguard.MetricSessionReplayed, Name: "sessionguard_session_replayed_total", Help: "Idempotent session creation replays."},
	{ID: sessionguard.MetricSessionTerminated, Name: "sessionguard_session_terminated_total", Help: "Terminated sessions."},
	{ID: sessionguard.MetricSessionQuarantined, Name: "sessionguard_session_quarantined_total", Help: "Sessions placed in quarantine."},
	{ID: sessionguard.MetricSessionEvicted, Name: "sessionguard_session_evicted_total", Help: "Oldest-session evictions at the concurrent limit."},
	{ID: sessionguard.MetricValidateSuccess, Name: "sessionguard_validate_success_total", Help: "Successful access validations."},
	{ID: sessionguard.MetricValidateFailure, Name: "sessionguard_validate_failure_total", Help: "Failed access validations."},
	{ID: sessionguard.MetricValidateLockout, Name: "sessionguard_validate_lockout_total", Help: "Validations rejected by the failed-validation lockout."},
	{ID: sessionguard.MetricRefreshSuccess, Name: "sessionguard_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: sessionguard.MetricRefreshFailure, Name: "sessionguard_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: sessionguard.MetricRefreshConflict, Name: "sessionguard_refresh_conflict_total", Help: "Rotation races lost to a concurrent refresh."},
	{ID: sessionguard.MetricRefreshReuseDetected, Name: "sessionguard_refresh_reuse_detected_total", Help: "Superseded refresh token presentations."},
	{ID: sessionguard.MetricTokenRevoked, Name: "sessionguard_token_revoked_total", Help: "Explicit token revocations."},
	{ID: sessionguard.MetricTenantMismatch, Name: "sessionguard_tenant_mismatch_total", Help: "Cross-tenant credential presentations."},
	{ID: sessionguard.MetricMembershipDenied, Name: "sessionguard_membership_denied_total", Help: "Membership-provider rejections."},
	{ID: sessionguard.MetricDeviceRejected, Name: "sessionguard_device_rejected_total", Help: "Sessions refused for insufficient device trust."},
	{ID: sessionguard.MetricDeviceTrustGranted, Name: "sessionguard_device_trust_granted_total", Help: "Device trust grants."},
	{ID: sessionguard.MetricDeviceTrustRevoked, Name: "sessionguard_device_trust_revoked_total", Help: "Device trust revocations."},
	{ID: sessionguard.MetricRiskFlagged, Name: "sessionguard_risk_flagged_total", Help: "Risk assessments in the flag band."},
	{ID: sessionguard.MetricRiskStepUp, Name: "sessionguard_risk_step_up_total", Help: "Risk assessments that demanded step-up."},
	{ID: sessionguard.MetricRiskQuarantine, Name: "sessionguard_risk_quarantine_total", Help: "Risk assessments that triggered quarantine."},
	{ID: sessionguard.MetricPolicyDenied, Name: "sessionguard_policy_denied_total", Help: "Operations blocked by tenant policy."},
	{ID: sessionguard.MetricLogoutAll, Name: "sessionguard_logout_all_total", Help: "Terminate-everywhere sweeps."},
}

// HistogramDefs lists every histogram in snapshot order.
var HistogramDefs = []HistogramDef{
	{ID: sessionguard.MetricValidateLatency, Name: "sessionguard_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds holds the upper bounds of the fixed latency buckets
// as exposition strings, ending with +Inf.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds the same bounds rendered as metric-name
// safe suffixes for backends without native histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies a snapshot bucket slice into the fixed bucket
// array, padding missing trailing buckets with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts
// as required by the Prometheus histogram exposition format.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
