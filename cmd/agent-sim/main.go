// ABOUTME: Minimal simulated agent for E2E testing — enrolls over HTTP and exercises the token flow.
// ABOUTME: Usage: agent-sim [-addr localhost:8420] [-name "sim-agent"]

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:8420", "coordinator HTTP address")
	name := flag.String("name", "sim-agent", "agent name to enroll as")
	roles := flag.String("roles", "worker", "comma-separated roles")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *addr, *name, strings.Split(*roles, ",")); err != nil {
		log.Fatal(err)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call posts body (or GETs when body is nil) and decodes the envelope data.
func call(ctx context.Context, method, url string, body any, headers map[string]string, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s (%s)", url, env.Error.Message, env.Error.Code)
		}
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func run(ctx context.Context, addr, name string, roles []string) error {
	base := "http://" + addr + "/api/v1"

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}

	// Step 1: request a challenge.
	var challenge struct {
		ChallengeID string    `json:"challenge_id"`
		Nonce       string    `json:"nonce"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	err = call(ctx, http.MethodPost, base+"/enroll/request", map[string]any{
		"agent_name": name,
		"public_key": hex.EncodeToString(pub),
		"roles":      roles,
	}, nil, &challenge)
	if err != nil {
		return fmt.Errorf("requesting challenge: %w", err)
	}
	fmt.Fprintf(os.Stderr, "challenge %s (expires %s)\n", challenge.ChallengeID, challenge.ExpiresAt.Format(time.RFC3339))

	// Step 2: prove key possession.
	sig := ed25519.Sign(priv, []byte(challenge.Nonce))
	var pair struct {
		SessionID    string `json:"session_id"`
		AgentID      string `json:"agent_id"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err = call(ctx, http.MethodPost, base+"/enroll/verify", map[string]any{
		"challenge_id": challenge.ChallengeID,
		"signature":    hex.EncodeToString(sig),
	}, nil, &pair)
	if err != nil {
		return fmt.Errorf("verifying challenge: %w", err)
	}
	fmt.Fprintf(os.Stderr, "enrolled as %s (session %s)\n", pair.AgentID, pair.SessionID)

	// Step 3: confirm the access token works.
	bearer := map[string]string{"Authorization": "Bearer " + pair.AccessToken}
	var whoami map[string]any
	if err := call(ctx, http.MethodGet, base+"/auth/whoami", nil, bearer, &whoami); err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	fmt.Fprintf(os.Stderr, "whoami ok: %v\n", whoami["session_id"])

	// Step 4: rotate the refresh token once.
	var rotated struct {
		RefreshToken string `json:"refresh_token"`
	}
	err = call(ctx, http.MethodPost, base+"/auth/refresh", map[string]any{
		"refresh_token": pair.RefreshToken,
	}, nil, &rotated)
	if err != nil {
		return fmt.Errorf("refreshing: %w", err)
	}
	fmt.Fprintln(os.Stderr, "refresh rotated ok")

	log.Printf("agent %s fully exercised the enrollment and token flow", name)
	return nil
}
