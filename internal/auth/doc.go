// Package auth provides the cryptographic primitives behind coordinator
// authentication.
//
// # Enrollment signatures
//
// Agents prove possession of their private key by signing the challenge nonce
// with Ed25519. ParsePublicKey accepts the raw key as hex or as an OpenSSH
// ssh-ed25519 authorized_keys line; VerifyDetached checks the detached
// signature and reports every failure mode as the same ErrSignatureInvalid so
// callers cannot distinguish a wrong key from a wrong signature.
//
// # Access tokens
//
// JWTManager mints and verifies HS256-signed access tokens carrying the
// agent ID, session ID, and roles. Verification pins the signing method:
// tokens claiming any other algorithm, including "none", are rejected with
// ErrAlgorithmMismatch regardless of their payload. DecodeUnverified is a
// separate, non-authenticating path used only for the refresh hint on
// expired tokens; it never reaches an authorization decision.
//
// # Request identity
//
// AuthContext carries the authenticated agent through the request context
// via WithAuth/FromContext, mirroring how handlers downstream consume it.
//
// # Operator surface
//
// KeyGate is a flat shared-secret check (X-API-Key header) for operator-only
// endpoints. It deliberately does not participate in the session/token model.
package auth
