// Package rate provides Redis-backed failure counting and lockout
// primitives for validation-abuse containment.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// prefixes:
//   - vf: — validation failures per-session
//   - vl: — lockout flag per-session
//
// Policy decisions (how many failures, how long a lockout) live with
// the caller; this package only moves counters.
package rate
