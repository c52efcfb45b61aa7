package sessionguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/sessionguard/sessionguard/device"
)

// GrantDeviceTrust raises a device's trust level after out-of-band
// verification. Trust only moves up through this call; a grant below the
// current level is rejected.
func (e *Engine) GrantDeviceTrust(ctx context.Context, tenantID, userID, deviceID string, level TrustLevel) error {
	if err := e.ready(); err != nil {
		return err
	}

	err := e.devices.GrantTrust(ctx, tenantID, userID, deviceID, level)
	if err != nil {
		mapped := mapDeviceError(err)
		e.emitAudit(ctx, auditEventDeviceTrustGranted, SeverityWarn, false, tenantID, userID, "", mapped, func() map[string]string {
			return map[string]string{"device_id": deviceID}
		})
		return mapped
	}

	e.metricInc(MetricDeviceTrustGranted)
	e.emitAudit(ctx, auditEventDeviceTrustGranted, SeverityInfo, true, tenantID, userID, "", nil, func() map[string]string {
		return map[string]string{
			"device_id": deviceID,
			"level":     level.String(),
		}
	})
	return nil
}

// RevokeDeviceTrust drops a device back to untrusted. Sessions bound to
// the device survive; policies requiring device trust will quarantine or
// terminate them on their next scored activity.
func (e *Engine) RevokeDeviceTrust(ctx context.Context, tenantID, userID, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	err := e.devices.RevokeTrust(ctx, tenantID, userID, deviceID)
	if err != nil {
		mapped := mapDeviceError(err)
		e.emitAudit(ctx, auditEventDeviceTrustRevoked, SeverityWarn, false, tenantID, userID, "", mapped, func() map[string]string {
			return map[string]string{"device_id": deviceID}
		})
		return mapped
	}

	e.metricInc(MetricDeviceTrustRevoked)
	e.emitAudit(ctx, auditEventDeviceTrustRevoked, SeverityInfo, true, tenantID, userID, "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}

// DeviceTrust returns the current trust level recorded for a device.
func (e *Engine) DeviceTrust(ctx context.Context, tenantID, userID, deviceID string) (TrustLevel, error) {
	if err := e.ready(); err != nil {
		return device.TrustUntrusted, err
	}
	level, err := e.devices.Trust(ctx, tenantID, userID, deviceID)
	if err != nil {
		return device.TrustUntrusted, mapDeviceError(err)
	}
	return level, nil
}

func mapDeviceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, device.ErrTrustDowngrade):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}
