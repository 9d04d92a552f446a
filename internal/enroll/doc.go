// Package enroll implements the challenge/response enrollment flow agents
// use to establish a trusted identity with the coordinator.
//
// Enrollment is two round trips: the agent requests a challenge for a
// (name, public key) claim, receiving a random nonce with a short TTL, then
// proves key possession by returning an Ed25519 signature over the nonce.
// A challenge is single-use; consumption uses a conditional update so that
// exactly one of any concurrent verification attempts wins.
package enroll
