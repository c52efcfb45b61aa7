// Package sessionguard provides a multi-tenant session and token security
// engine: rotating JWT credential pairs, authoritative Redis-backed
// session records, a device trust registry, anomaly scoring, and
// per-tenant policy enforcement.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// sessionguard is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (ClaimSet, SessionInfo, MetricsSnapshot,
// etc.). All internal coordination (flow orchestration, failure lockout,
// audit dispatch) lives under internal/ and is never exported. The
// session, device, token, risk, and policy sub-packages are public leaf
// layers usable on their own.
//
// # What this package must NOT do
//
//   - Authenticate users. The caller verifies credentials by whatever
//     means it uses and hands the engine an already-authenticated
//     identity through [Engine.CreateSession].
//   - Store user or tenant records. Directory questions go through the
//     caller's [MembershipProvider].
//   - Expose Redis clients, key layouts, or encoding details in its
//     public API.
//
// # Performance contract
//
// Validate is the hot path. ModeJWTOnly completes without any Redis
// round-trip; ModeHybrid adds revocation lookups; ModeStrict loads the
// session record and evaluates tenant policy per call.
package sessionguard
