// Package session implements the Redis-backed authoritative session record.
//
// A session is stored as one Redis hash per session plus a per-user index
// set and a per-tenant counter. All state transitions that must be atomic
// under concurrency (generation rotation, termination, quarantine) run as
// Lua scripts so two racing callers can never both observe success.
//
// The package also owns the token revocation lists and the append-only
// activity history, because both share the session keyspace and lifetime.
package session
