package middleware

import (
	"net/http"

	"github.com/sessionguard/sessionguard"
)

// RequireJWTOnly returns middleware that overrides the validation mode to
// [sessionguard.ModeJWTOnly] for the wrapped handler, skipping Redis
// entirely.
func RequireJWTOnly(engine *sessionguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, sessionguard.ModeJWTOnly)
}
