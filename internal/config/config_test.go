// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8420"
  max_body_bytes: 65536

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"
  access_ttl: "10m"
  refresh_ttl: "720h"
  challenge_ttl: "2m"

ratelimit:
  window: "30s"
  max_requests: 50
  exempt:
    - "127.0.0.1"

admin:
  api_keys:
    - "key-one"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8420" {
		t.Errorf("unexpected http_addr: %s", cfg.Server.HTTPAddr)
	}
	if cfg.Server.MaxBodyBytes != 65536 {
		t.Errorf("unexpected max_body_bytes: %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Auth.AccessTTL != 10*time.Minute {
		t.Errorf("unexpected access_ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Auth.RefreshTTL != 720*time.Hour {
		t.Errorf("unexpected refresh_ttl: %v", cfg.Auth.RefreshTTL)
	}
	if cfg.Auth.ChallengeTTL != 2*time.Minute {
		t.Errorf("unexpected challenge_ttl: %v", cfg.Auth.ChallengeTTL)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("unexpected ratelimit window: %v", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.MaxRequests != 50 {
		t.Errorf("unexpected max_requests: %d", cfg.RateLimit.MaxRequests)
	}
	if len(cfg.Admin.APIKeys) != 1 || cfg.Admin.APIKeys[0] != "key-one" {
		t.Errorf("unexpected admin api_keys: %v", cfg.Admin.APIKeys)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("expected default http_addr, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.AccessTTL != DefaultAccessTTL {
		t.Errorf("expected default access_ttl, got %v", cfg.Auth.AccessTTL)
	}
	if cfg.RateLimit.MaxRequests != DefaultRateMax {
		t.Errorf("expected default max_requests, got %d", cfg.RateLimit.MaxRequests)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("COORDINATOR_TEST_SECRET", "from-env")

	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "${COORDINATOR_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env-expanded secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing jwt_secret")
	}
	if !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret, got %v", err)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "${COORDINATOR_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(path)
	if !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret for unset env var, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
  access_ttl: "not-a-duration"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "access_ttl") {
		t.Errorf("expected duration parse error naming access_ttl, got %v", err)
	}
}

func TestLoad_RefreshMustExceedAccess(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
  access_ttl: "1h"
  refresh_ttl: "30m"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "refresh_ttl") {
		t.Errorf("expected validation error for refresh_ttl, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
