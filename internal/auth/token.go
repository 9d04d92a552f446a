// ABOUTME: JWT access token minting and verification for authenticating API requests
// ABOUTME: Pins HS256 signing so algorithm-confusion tokens never verify

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrAccessInvalid     = errors.New("invalid access token")
	ErrAccessExpired     = errors.New("access token expired")
	ErrAlgorithmMismatch = errors.New("unexpected signing algorithm")
	ErrMissingClaim      = errors.New("missing required claim")
)

// Claims are the verified contents of an access token.
type Claims struct {
	AgentID   string
	SessionID string
	Roles     []string
	ExpiresAt time.Time
}

// TokenVerifier defines the interface for access token verification.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTManager mints and verifies HS256-signed access tokens.
type JWTManager struct {
	secret []byte
}

// NewJWTManager creates a token manager with the given signing secret.
func NewJWTManager(secret []byte) *JWTManager {
	return &JWTManager{secret: secret}
}

// Generate creates a new access token for the given agent and session.
func (m *JWTManager) Generate(agentID, sessionID string, roles []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   agentID,
		"sid":   sessionID,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates the token and extracts its claims. Exactly one signing
// algorithm is accepted: a token whose header claims any other method,
// including "none", fails with ErrAlgorithmMismatch before the signature is
// ever checked. Expired-but-well-signed tokens fail with ErrAccessExpired;
// everything else fails with ErrAccessInvalid.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, ErrAlgorithmMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, err)
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessInvalid, err)
	}

	if !token.Valid {
		return nil, ErrAccessInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAccessInvalid
	}

	return claimsFromMap(mapClaims)
}

// DecodeUnverified extracts claims from a token WITHOUT verifying its
// signature or expiry. It exists solely to support a refresh hint on expired
// tokens and must never feed an authorization decision.
func (m *JWTManager) DecodeUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessInvalid, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAccessInvalid
	}

	return claimsFromMap(mapClaims)
}

// claimsFromMap pulls the required claims out of a decoded claim set.
func claimsFromMap(mapClaims jwt.MapClaims) (*Claims, error) {
	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	sid, _ := mapClaims["sid"].(string)

	var roles []string
	if raw, ok := mapClaims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	claims := &Claims{
		AgentID:   sub,
		SessionID: sid,
		Roles:     roles,
	}

	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return claims, nil
}
