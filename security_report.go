package sessionguard

import "time"

// SecurityReport is a static posture summary of the engine configuration,
// intended for startup logging and compliance checks.
type SecurityReport struct {
	ProductionMode   bool
	SigningAlgorithm string
	ValidationMode   ValidationMode
	StrictMode       bool

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	TenantIsolationEnforced  bool
	MembershipChecksActive   bool
	RefreshRotationEnabled   bool
	ReuseDetectionEnabled    bool
	DeviceAttestationActive  bool
	GeoRiskScoringActive     bool
	AuditEnabled             bool
	MetricsEnabled           bool
	SigningKeyRolloverActive bool
}

// SecurityReport summarizes the engine's effective security posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.Token.SigningMethod,
		ValidationMode:   e.config.ValidationMode,
		StrictMode:       e.config.ValidationMode == ModeStrict,

		AccessTTL:  e.config.Token.AccessTTL,
		RefreshTTL: e.config.Token.RefreshTTL,

		TenantIsolationEnforced:  e.config.Tenant.EnforceIsolation,
		MembershipChecksActive:   e.membership != nil,
		RefreshRotationEnabled:   e.config.Security.EnforceRefreshRotation,
		ReuseDetectionEnabled:    e.config.Security.EnforceReuseDetection,
		DeviceAttestationActive:  e.config.Device.RequireAttestation,
		GeoRiskScoringActive:     e.geo != nil,
		AuditEnabled:             e.config.Audit.Enabled,
		MetricsEnabled:           e.config.Metrics.Enabled,
		SigningKeyRolloverActive: len(e.config.Token.VerifyKeys) > 0,
	}
}
