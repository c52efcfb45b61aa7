// Package risk scores session activity for account-compromise signals.
//
// The detector is a pure function of the event, the session's prior
// location, the device novelty flag, the recent failure count, and the
// user's hour-of-day histogram. Given the same ordered inputs and the same
// weights it always produces the same score; banding against the
// policy-configured thresholds happens in the policy package.
package risk
