package session

import (
	"errors"
	"strconv"
)

// Hash field names. The rotation and termination Lua scripts read these by
// name; renaming a field here requires updating the scripts in store.go.
const (
	fieldUserID          = "uid"
	fieldTenantID        = "tid"
	fieldDeviceID        = "did"
	fieldState           = "state"
	fieldSecurityLevel   = "sec"
	fieldIP              = "ip"
	fieldGeneration      = "gen"
	fieldCreatedAt       = "created_at"
	fieldLastAccessedAt  = "last_access"
	fieldExpiresAt       = "expires_at"
	fieldTerminatedAt    = "terminated_at"
	fieldTerminateReason = "term_reason"
	fieldLastLat         = "loc_lat"
	fieldLastLon         = "loc_lon"
	fieldLastCountry     = "loc_country"
	fieldLastSeenAt      = "loc_at"
)

// ErrCorruptRecord is returned when a stored session hash is missing
// required fields or carries unparseable values.
var ErrCorruptRecord = errors.New("corrupt session record")

func encodeFields(s *Session) map[string]any {
	fields := map[string]any{
		fieldUserID:         s.UserID,
		fieldTenantID:       s.TenantID,
		fieldDeviceID:       s.DeviceID,
		fieldState:          s.State.String(),
		fieldSecurityLevel:  strconv.FormatUint(uint64(s.SecurityLevel), 10),
		fieldIP:             s.IP,
		fieldGeneration:     strconv.FormatInt(s.Generation, 10),
		fieldCreatedAt:      strconv.FormatInt(s.CreatedAt, 10),
		fieldLastAccessedAt: strconv.FormatInt(s.LastAccessedAt, 10),
		fieldExpiresAt:      strconv.FormatInt(s.ExpiresAt, 10),
	}
	if s.HasLastCoords {
		fields[fieldLastLat] = strconv.FormatFloat(s.LastLat, 'f', -1, 64)
		fields[fieldLastLon] = strconv.FormatFloat(s.LastLon, 'f', -1, 64)
		fields[fieldLastSeenAt] = strconv.FormatInt(s.LastSeenAt, 10)
	}
	if s.LastCountry != "" {
		fields[fieldLastCountry] = s.LastCountry
	}
	return fields
}

func decodeFields(sessionID string, raw map[string]string) (*Session, error) {
	if len(raw) == 0 {
		return nil, ErrCorruptRecord
	}

	stateName, ok := raw[fieldState]
	if !ok {
		return nil, ErrCorruptRecord
	}
	state, ok := ParseState(stateName)
	if !ok {
		return nil, ErrCorruptRecord
	}

	gen, err := requiredInt(raw, fieldGeneration)
	if err != nil {
		return nil, err
	}
	createdAt, err := requiredInt(raw, fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	expiresAt, err := requiredInt(raw, fieldExpiresAt)
	if err != nil {
		return nil, err
	}

	s := &Session{
		SessionID:       sessionID,
		UserID:          raw[fieldUserID],
		TenantID:        raw[fieldTenantID],
		DeviceID:        raw[fieldDeviceID],
		State:           state,
		IP:              raw[fieldIP],
		Generation:      gen,
		CreatedAt:       createdAt,
		ExpiresAt:       expiresAt,
		TerminateReason: raw[fieldTerminateReason],
		LastCountry:     raw[fieldLastCountry],
	}
	if s.UserID == "" {
		return nil, ErrCorruptRecord
	}

	s.LastAccessedAt = optionalInt(raw, fieldLastAccessedAt, createdAt)
	s.TerminatedAt = optionalInt(raw, fieldTerminatedAt, 0)
	s.LastSeenAt = optionalInt(raw, fieldLastSeenAt, 0)

	if sec, ok := raw[fieldSecurityLevel]; ok {
		v, err := strconv.ParseUint(sec, 10, 8)
		if err != nil {
			return nil, ErrCorruptRecord
		}
		s.SecurityLevel = uint8(v)
	}

	latRaw, hasLat := raw[fieldLastLat]
	lonRaw, hasLon := raw[fieldLastLon]
	if hasLat && hasLon {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lon, lonErr := strconv.ParseFloat(lonRaw, 64)
		if latErr != nil || lonErr != nil {
			return nil, ErrCorruptRecord
		}
		s.LastLat = lat
		s.LastLon = lon
		s.HasLastCoords = true
	}

	return s, nil
}

func requiredInt(raw map[string]string, field string) (int64, error) {
	v, ok := raw[field]
	if !ok {
		return 0, ErrCorruptRecord
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrCorruptRecord
	}
	return n, nil
}

func optionalInt(raw map[string]string, field string, fallback int64) int64 {
	v, ok := raw[field]
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
