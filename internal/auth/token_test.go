// ABOUTME: Tests for access token minting and verification
// ABOUTME: Covers expiry, wrong-secret rejection, and signing-algorithm pinning

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	tokenString, err := m.Generate("agt_1", "ses_1", []string{"worker", "relay"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Verify(tokenString)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.AgentID != "agt_1" {
		t.Errorf("expected agent agt_1, got %s", claims.AgentID)
	}
	if claims.SessionID != "ses_1" {
		t.Errorf("expected session ses_1, got %s", claims.SessionID)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "worker" {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	tokenString, err := m.Generate("agt_1", "ses_1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, err = m.Verify(tokenString)
	if !errors.Is(err, ErrAccessExpired) {
		t.Errorf("expected ErrAccessExpired, got %v", err)
	}
}

func TestJWTManager_WrongSecret(t *testing.T) {
	m := NewJWTManager([]byte("secret-a"))
	other := NewJWTManager([]byte("secret-b"))

	tokenString, err := m.Generate("agt_1", "ses_1", nil, time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, err = other.Verify(tokenString)
	if !errors.Is(err, ErrAccessInvalid) {
		t.Errorf("expected ErrAccessInvalid, got %v", err)
	}
}

func TestJWTManager_Garbage(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	_, err := m.Verify("not-a-token")
	if !errors.Is(err, ErrAccessInvalid) {
		t.Errorf("expected ErrAccessInvalid, got %v", err)
	}
}

func TestJWTManager_RejectsNoneAlgorithm(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "agt_1",
		"sid": "ses_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	_, err = m.Verify(tokenString)
	if !errors.Is(err, ErrAlgorithmMismatch) {
		t.Errorf("expected ErrAlgorithmMismatch, got %v", err)
	}
}

func TestJWTManager_RejectsForeignAlgorithm(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	// HS384 with the right secret still fails: only HS256 is accepted.
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{
		"sub": "agt_1",
		"sid": "ses_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing HS384 token: %v", err)
	}

	_, err = m.Verify(tokenString)
	if !errors.Is(err, ErrAlgorithmMismatch) {
		t.Errorf("expected ErrAlgorithmMismatch, got %v", err)
	}
}

func TestJWTManager_DecodeUnverified(t *testing.T) {
	m := NewJWTManager([]byte("test-secret"))

	tokenString, err := m.Generate("agt_9", "ses_9", nil, time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Decoding ignores the signature entirely.
	other := NewJWTManager([]byte("different"))
	claims, err := other.DecodeUnverified(tokenString)
	if err != nil {
		t.Fatalf("DecodeUnverified failed: %v", err)
	}
	if claims.AgentID != "agt_9" {
		t.Errorf("expected agent agt_9, got %s", claims.AgentID)
	}
}
