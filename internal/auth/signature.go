// ABOUTME: Ed25519 public key parsing and detached signature verification for enrollment
// ABOUTME: Accepts raw hex keys and OpenSSH ssh-ed25519 authorized_keys lines

package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Signature errors. Verification failure is deliberately a single error with
// no detail about why the signature did not match.
var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrPublicKeyInvalid = errors.New("invalid public key")
)

// ParsePublicKey parses an Ed25519 verification key submitted at enrollment.
// Two encodings are accepted: a hex string of the raw 32-byte key, or an
// OpenSSH authorized_keys line of type ssh-ed25519.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrPublicKeyInvalid)
	}

	if strings.HasPrefix(s, "ssh-ed25519 ") {
		return parseSSHPublicKey(s)
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKeyInvalid, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrPublicKeyInvalid, ed25519.PublicKeySize, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

// parseSSHPublicKey extracts the raw Ed25519 key from an authorized_keys line.
func parseSSHPublicKey(s string) (ed25519.PublicKey, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKeyInvalid, err)
	}

	cryptoKey, ok := pubkey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %s", ErrPublicKeyInvalid, pubkey.Type())
	}

	edKey, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %s", ErrPublicKeyInvalid, pubkey.Type())
	}

	return edKey, nil
}

// NormalizePublicKey returns the canonical stored form of a key: lowercase
// hex of the raw 32 bytes, regardless of the submitted encoding.
func NormalizePublicKey(s string) (string, error) {
	key, err := ParsePublicKey(s)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// VerifyDetached checks a detached Ed25519 signature over message under the
// given hex-encoded public key. Any failure, from a malformed key or
// signature to a plain mismatch, yields the same ErrSignatureInvalid.
func VerifyDetached(publicKeyHex string, message, signature []byte) error {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return ErrSignatureInvalid
	}
	if len(signature) != ed25519.SignatureSize {
		return ErrSignatureInvalid
	}

	if !ed25519.Verify(ed25519.PublicKey(raw), message, signature) {
		return ErrSignatureInvalid
	}

	return nil
}
