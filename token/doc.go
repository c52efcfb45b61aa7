// Package token issues and verifies signed credential pairs.
//
// Both halves of a pair are JWTs (header.payload.signature, base64url)
// signed with Ed25519 by default or HS256 for shared-secret deployments.
// Every token carries the session it belongs to and the refresh generation
// it was minted for; the package itself is stateless and leaves revocation
// and generation arbitration to the session store.
package token
