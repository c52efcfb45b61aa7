// Package policy holds per-tenant security policy documents and the
// evaluation engine that turns session state into an enforcement action.
//
// Evaluation runs a fixed sequence of checks and stops at the first one
// that produces a non-allow action, so a blocked country is reported as
// a country violation even when the risk score would also have tripped.
package policy
