package rate

import "errors"

var (
	// ErrLockedOut reports that the session is inside an active lockout
	// window.
	ErrLockedOut = errors.New("locked out")
	// ErrRedisUnavailable wraps transport failures talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
