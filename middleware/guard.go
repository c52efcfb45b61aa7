package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sessionguard/sessionguard"
)

type validationContextKey struct{}

// ValidationFromContext returns the validation result a [Guard] stored on
// the request context.
func ValidationFromContext(ctx context.Context) (*sessionguard.ValidationResult, bool) {
	res, ok := ctx.Value(validationContextKey{}).(*sessionguard.ValidationResult)
	return res, ok
}

// Guard returns middleware that validates the bearer token at the given
// route mode and injects the result into the request context.
func Guard(engine *sessionguard.Engine, routeMode sessionguard.RouteMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.Validate(r.Context(), token, routeMode)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), validationContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
