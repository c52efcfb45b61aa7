// Package device tracks device fingerprints and their explicitly granted
// trust levels. The registry never raises trust from usage alone: repeated
// logins from the same device keep it at its current level until a grant.
package device
