// Package middleware exposes HTTP middleware adapters for JWT-only,
// hybrid, and strict validation modes built on top of
// sessionguard.Engine validation.
//
// # Guards
//
//   - [Guard] — validates at the engine's configured mode.
//   - [RequireJWTOnly] — stateless token verification, no Redis call.
//   - [RequireHybrid] — token verification plus revocation checks.
//   - [RequireStrict] — full session record enforcement.
//
// Each guard reads the Authorization header, calls Engine.Validate, and
// injects the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement validation logic itself; all decisions are delegated to
// Engine.Validate.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from
//     Engine.Validate.
package middleware
