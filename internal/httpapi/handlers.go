// ABOUTME: Route handlers for enrollment, token lifecycle, and operator endpoints
// ABOUTME: Handlers decode, delegate to services, and write the shared envelope

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/enroll"
	"github.com/nanofed/coordinator/internal/store"
	"github.com/nanofed/coordinator/internal/token"
)

type enrollRequestBody struct {
	AgentName   string   `json:"agent_name"`
	PublicKey   string   `json:"public_key"`
	Roles       []string `json:"roles,omitempty"`
	Description string   `json:"description,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	Region      string   `json:"region,omitempty"`
}

type enrollVerifyBody struct {
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type challengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type tokenPairResponse struct {
	SessionID        string    `json:"session_id"`
	AgentID          string    `json:"agent_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type agentResponse struct {
	AgentID       string     `json:"agent_id"`
	Name          string     `json:"name"`
	PublicKey     string     `json:"public_key"`
	Roles         []string   `json:"roles"`
	Description   string     `json:"description,omitempty"`
	Hostname      string     `json:"hostname,omitempty"`
	Region        string     `json:"region,omitempty"`
	EnrolledAt    time.Time  `json:"enrolled_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

type auditEntryResponse struct {
	AuditID   string         `json:"audit_id"`
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	IPAddress string         `json:"ip_address,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// decodeBody decodes a JSON request body, writing the envelope on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) handleEnrollRequest(w http.ResponseWriter, r *http.Request) {
	var body enrollRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.AgentName == "" || body.PublicKey == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "agent_name and public_key are required")
		return
	}
	if len(body.AgentName) > 128 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "agent_name too long")
		return
	}

	ch, err := s.enroll.RequestChallenge(r.Context(), &enroll.Request{
		AgentName:   body.AgentName,
		PublicKey:   body.PublicKey,
		Roles:       body.Roles,
		Description: body.Description,
		Hostname:    body.Hostname,
		Region:      body.Region,
	}, clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: ch.ID,
		Nonce:       ch.Nonce,
		ExpiresAt:   ch.ExpiresAt,
	})
}

func (s *Server) handleEnrollVerify(w http.ResponseWriter, r *http.Request) {
	var body enrollVerifyBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ChallengeID == "" || body.Signature == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "challenge_id and signature are required")
		return
	}

	pair, err := s.enroll.Verify(r.Context(), body.ChallengeID, body.Signature, clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "refresh_token is required")
		return
	}

	pair, err := s.tokens.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	agent, err := s.store.GetAgent(r.Context(), identity.AgentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":      agentToResponse(agent),
		"session_id": identity.SessionID,
		"roles":      identity.Roles,
	})
}

// handleRevoke lets an agent revoke its own current session.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	if err := s.tokens.Revoke(r.Context(), identity.SessionID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Best effort audit.
	_ = s.store.AppendAudit(r.Context(), &store.AuditEntry{
		EventType: "session.revoked",
		ActorID:   identity.AgentID,
		Action:    "agent revoked its own session",
		IPAddress: clientIP(r),
		Detail:    map[string]any{"session_id": identity.SessionID},
	})

	writeJSON(w, http.StatusOK, map[string]any{"session_id": identity.SessionID, "revoked": true})
}

func (s *Server) handleAdminListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), 500)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentToResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out, "count": len(out)})
}

func (s *Server) handleAdminDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	if err := s.store.DeactivateAgent(r.Context(), agentID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	_ = s.store.AppendAudit(r.Context(), &store.AuditEntry{
		EventType: "agent.deactivated",
		Action:    "operator deactivated agent",
		IPAddress: clientIP(r),
		Detail:    map[string]any{"agent_id": agentID},
	})

	s.logger.Info("agent deactivated", "agent_id", agentID)
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "deactivated": true})
}

func (s *Server) handleAdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.tokens.Revoke(r.Context(), sessionID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	_ = s.store.AppendAudit(r.Context(), &store.AuditEntry{
		EventType: "session.revoked",
		Action:    "operator revoked session",
		IPAddress: clientIP(r),
		Detail:    map[string]any{"session_id": sessionID},
	})

	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "revoked": true})
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), 200)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			AuditID:   e.ID,
			EventType: e.EventType,
			ActorID:   e.ActorID,
			Action:    e.Action,
			IPAddress: e.IPAddress,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func pairResponse(p *token.Pair) tokenPairResponse {
	return tokenPairResponse{
		SessionID:        p.SessionID,
		AgentID:          p.AgentID,
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func agentToResponse(a *store.AgentIdentity) agentResponse {
	return agentResponse{
		AgentID:       a.ID,
		Name:          a.Name,
		PublicKey:     a.PublicKey,
		Roles:         a.Roles,
		Description:   a.Description,
		Hostname:      a.Hostname,
		Region:        a.Region,
		EnrolledAt:    a.EnrolledAt,
		DeactivatedAt: a.DeactivatedAt,
	}
}
