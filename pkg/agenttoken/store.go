package agenttoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/audit"
	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/internal/ratelimit"
)

// Store implements the Token Store operations of §4.A over internal/db,
// writing every lifecycle and liveness event through an audit.Writer.
type Store struct {
	q       *db.Queries
	audit   *audit.Writer
	limiter *ratelimit.Limiter
}

func NewStore(dbtx db.DBTX, auditWriter *audit.Writer, limiter *ratelimit.Limiter) *Store {
	return &Store{q: db.New(dbtx), audit: auditWriter, limiter: limiter}
}

// IsTokenHashTaken reports whether hash has ever been assigned to any
// agent, current or historical (§3's cross-agent uniqueness invariant).
func (s *Store) IsTokenHashTaken(ctx context.Context, hash string) (bool, error) {
	ok, err := s.q.TokenHashEverIssued(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("checking token uniqueness: %w", err)
	}
	return ok, nil
}

// RecordIssued appends the "issued" audit row after agentregistry creates
// the agent row with its first token hash.
func (s *Store) RecordIssued(ctx context.Context, agentID int64, actorUserID *int64, raw string) {
	details, _ := json.Marshal(map[string]string{"token_prefix": Prefix(raw)})
	s.audit.Log(audit.Entry{
		AgentID:     agentID,
		EventType:   EventIssued,
		ActorUserID: actorUserID,
		Details:     details,
	})
}

// Authenticate resolves a presented bearer token to an AgentPrincipal,
// enforcing §4.A's failure model: invalid, revoked, and expired tokens
// are all rejected, and a rejected heartbeat must never reach the
// last_heartbeat write (the caller never calls RecordHeartbeat without a
// principal from a successful Authenticate).
func (s *Store) Authenticate(ctx context.Context, presented string, clientIP *string) (AgentPrincipal, error) {
	limiterKey := "unknown"
	if clientIP != nil {
		limiterKey = *clientIP
	}
	if res, err := s.limiter.Check(ctx, limiterKey); err != nil {
		return AgentPrincipal{}, apierr.Internal("checking authentication rate limit", err)
	} else if !res.Allowed {
		return AgentPrincipal{}, apierr.AuthFailure("too many failed authentication attempts, try again later")
	}

	recordFailure := func(reason string, agentID int64) {
		_ = s.limiter.RecordFailure(ctx, limiterKey)
		s.audit.Log(audit.Entry{AgentID: agentID, EventType: EventAuthenticationFailure, IPAddress: clientIP,
			Details: mustJSON(map[string]string{"reason": reason})})
	}

	hash := HashToken(presented)
	agent, err := s.q.GetAgentByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No agent row to attach an audit entry to (the FK requires one);
			// only the rate-limit counter tracks this failure.
			_ = s.limiter.RecordFailure(ctx, limiterKey)
			return AgentPrincipal{}, apierr.AuthFailure("invalid credentials")
		}
		return AgentPrincipal{}, apierr.Internal("resolving agent token", err)
	}

	if agent.TokenStatus == TokenStatusRevoked {
		recordFailure("revoked", agent.ID)
		return AgentPrincipal{}, apierr.AuthFailure("invalid credentials")
	}
	if agent.ExpiresAt.Valid && time.Now().After(agent.ExpiresAt.Time) {
		recordFailure("expired", agent.ID)
		return AgentPrincipal{}, apierr.AuthFailure("invalid credentials")
	}

	if err := s.q.TouchLastUsed(ctx, agent.ID, clientIP); err != nil {
		return AgentPrincipal{}, apierr.Internal("touching agent last-used", err)
	}
	_ = s.limiter.Reset(ctx, limiterKey)
	s.audit.Log(audit.Entry{AgentID: agent.ID, EventType: EventAuthenticationSuccess, IPAddress: clientIP})

	networkIDs, err := s.q.ListBindingsForAgent(ctx, agent.ID)
	if err != nil {
		return AgentPrincipal{}, apierr.Internal("loading network bindings", err)
	}

	return AgentPrincipal{
		AgentID:        agent.ID,
		CompanyID:      agent.CompanyID,
		OrganizationID: agent.OrganizationID,
		Capabilities:   agent.Capabilities,
		NetworkIDs:     networkIDs,
	}, nil
}

// Rotate generates a new token, atomically replacing the current one, and
// records both old and new 8-character prefixes for forensics.
func (s *Store) Rotate(ctx context.Context, agentID int64, actorUserID *int64) (string, error) {
	old, err := s.q.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apierr.NotFound("agent not found")
		}
		return "", apierr.Internal("loading agent", err)
	}

	var raw, hash string
	for attempt := 0; attempt < 5; attempt++ {
		raw, hash = GenerateToken()
		taken, err := s.IsTokenHashTaken(ctx, hash)
		if err != nil {
			return "", err
		}
		if !taken {
			break
		}
	}

	if _, err := s.q.RotateAgentToken(ctx, agentID, hash); err != nil {
		return "", apierr.Internal("rotating token", err)
	}

	details, _ := json.Marshal(map[string]string{
		"old_token_prefix": Prefix(old.TokenHash), // already a hash, but no raw retained for old token
		"new_token_prefix": Prefix(raw),
	})
	s.audit.Log(audit.Entry{AgentID: agentID, EventType: EventRotated, ActorUserID: actorUserID, Details: details})

	return raw, nil
}

// Revoke is idempotent: revoking an already-revoked token succeeds.
func (s *Store) Revoke(ctx context.Context, agentID int64, actorUserID *int64, reason string) error {
	if _, err := s.q.RevokeAgentToken(ctx, agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("agent not found")
		}
		return apierr.Internal("revoking token", err)
	}
	details, _ := json.Marshal(map[string]string{"reason": reason})
	s.audit.Log(audit.Entry{AgentID: agentID, EventType: EventRevoked, ActorUserID: actorUserID, Details: details})
	return nil
}

// Activate rejects an already-active token with Conflict, per §7's example.
func (s *Store) Activate(ctx context.Context, agentID int64, actorUserID *int64) error {
	agent, err := s.q.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("agent not found")
		}
		return apierr.Internal("loading agent", err)
	}
	if agent.TokenStatus == TokenStatusActive {
		return apierr.Conflict("token is already active")
	}

	if _, err := s.q.ActivateAgentToken(ctx, agentID); err != nil {
		return apierr.Internal("activating token", err)
	}
	s.audit.Log(audit.Entry{AgentID: agentID, EventType: EventActivated, ActorUserID: actorUserID})
	return nil
}

// Extend pushes expires_at forward by days, anchored at now if unset.
func (s *Store) Extend(ctx context.Context, agentID int64, days int, actorUserID *int64) (time.Time, error) {
	agent, err := s.q.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, apierr.NotFound("agent not found")
		}
		return time.Time{}, apierr.Internal("loading agent", err)
	}

	base := time.Now()
	if agent.ExpiresAt.Valid {
		base = agent.ExpiresAt.Time
	}
	newExpiry := base.AddDate(0, 0, days)

	if _, err := s.q.ExtendAgentToken(ctx, agentID, newExpiry); err != nil {
		return time.Time{}, apierr.Internal("extending token", err)
	}
	details, _ := json.Marshal(map[string]any{"days": days, "new_expiry": newExpiry})
	s.audit.Log(audit.Entry{AgentID: agentID, EventType: EventExtended, ActorUserID: actorUserID, Details: details})
	return newExpiry, nil
}

// Info returns the token_info read-model for an agent.
func (s *Store) Info(ctx context.Context, agentID int64) (TokenInfo, error) {
	a, err := s.q.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenInfo{}, apierr.NotFound("agent not found")
		}
		return TokenInfo{}, apierr.Internal("loading agent", err)
	}

	info := TokenInfo{
		AgentID:     a.ID,
		TokenStatus: a.TokenStatus,
		TokenPrefix: Prefix(a.TokenHash),
		IssuedAt:    a.IssuedAt,
		LastIP:      a.LastIP,
	}
	if a.RotatedAt.Valid {
		t := a.RotatedAt.Time
		info.RotatedAt = &t
	}
	if a.RevokedAt.Valid {
		t := a.RevokedAt.Time
		info.RevokedAt = &t
	}
	if a.ExpiresAt.Valid {
		t := a.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	if a.LastUsedAt.Valid {
		t := a.LastUsedAt.Time
		info.LastUsedAt = &t
	}
	return info, nil
}

// AuditLogs returns recent audit entries for an agent, newest first.
func (s *Store) AuditLogs(ctx context.Context, agentID int64, limit, offset int32) ([]AuditLogEntry, error) {
	rows, err := s.q.ListAuditEntries(ctx, agentID, limit, offset)
	if err != nil {
		return nil, apierr.Internal("listing audit log", err)
	}

	out := make([]AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		var details map[string]any
		if len(r.Details) > 0 {
			_ = json.Unmarshal(r.Details, &details)
		}
		out = append(out, AuditLogEntry{
			ID:          r.ID,
			AgentID:     r.AgentID,
			EventType:   r.EventType,
			ActorUserID: r.ActorUserID,
			IPAddress:   r.IPAddress,
			Details:     details,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
