package middleware

import (
	"net/http"

	"github.com/sessionguard/sessionguard"
)

// RequireHybrid overrides the validation mode to
// [sessionguard.ModeHybrid] for the wrapped handler.
func RequireHybrid(engine *sessionguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, sessionguard.ModeHybrid)
}

// RequireStrict overrides the validation mode to
// [sessionguard.ModeStrict] for the wrapped handler.
func RequireStrict(engine *sessionguard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, sessionguard.ModeStrict)
}
