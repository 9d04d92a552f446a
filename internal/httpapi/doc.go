// Package httpapi exposes the coordinator's HTTP surface: enrollment,
// token lifecycle, a small operator API, and a health probe.
//
// Every response uses a single envelope shape. Failures carry a stable
// machine-readable code alongside a human message:
//
//	{"success": false, "error": {"code": "CHALLENGE_EXPIRED", "message": "challenge expired"}}
//
// The middleware chain runs body-size limiting first, then per-address rate
// limiting, then input screening, and finally route-specific authentication
// (bearer token for agent endpoints, static key for operator endpoints).
package httpapi
