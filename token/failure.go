package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Failure classifies why a token failed validation. Expiry is an expected,
// frequent outcome and is never surfaced as an exceptional error.
type Failure int

const (
	FailureNone Failure = iota
	FailureExpired
	FailureSignature
	FailureMalformed
)

// ClassifyError maps a parse error to a [Failure]. Anything that is neither
// an expiry nor a signature mismatch is treated as malformed.
func ClassifyError(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, jwt.ErrTokenExpired):
		return FailureExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return FailureSignature
	default:
		return FailureMalformed
	}
}
