// Package agenttoken implements the Token Store (§4.A): issuing, hashing,
// rotating, revoking, and auditing agent bearer tokens.
package agenttoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// tokenAlphabet matches the CSPRNG alphanumeric alphabet §4.A and the
// original agent_service.py's secrets.choice(ascii_letters + digits).
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// tokenLength is comfortably above the "≥32 characters" floor §4.A sets.
const tokenLength = 40

// GenerateToken produces a fresh opaque bearer token and its SHA-256 hash.
// Only the raw token is ever shown to a caller, and only once, at issuance
// or rotation.
func GenerateToken() (raw, hash string) {
	b := make([]byte, tokenLength)
	idx := make([]byte, tokenLength)
	if _, err := rand.Read(idx); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	for i, v := range idx {
		b[i] = tokenAlphabet[int(v)%len(tokenAlphabet)]
	}
	raw = string(b)
	hash = HashToken(raw)
	return raw, hash
}

// HashToken returns the stable fingerprint stored in place of the raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Prefix returns the 8-character forensic prefix §4.A permits logging —
// never enough to reconstruct the secret.
func Prefix(raw string) string {
	if len(raw) < 8 {
		return raw
	}
	return raw[:8]
}

const (
	TokenStatusActive  = "active"
	TokenStatusRevoked = "revoked"
	TokenStatusExpired = "expired"
)

// Audit event types appended to AgentTokenAuditEntry (§3).
const (
	EventIssued                = "issued"
	EventRotated                = "rotated"
	EventRevoked                = "revoked"
	EventActivated              = "activated"
	EventExtended               = "extended"
	EventHeartbeat              = "heartbeat"
	EventAuthenticationSuccess  = "authentication_success"
	EventAuthenticationFailure  = "authentication_failure"
	EventPing                   = "ping"
	EventPong                   = "pong"
	EventOrganizationsAccessed  = "organizations_accessed"
	EventNetworksAccessed       = "networks_accessed"
)

// AgentPrincipal is the caller identity resolved from a valid bearer token,
// handed to handlers mounted behind agent authentication.
type AgentPrincipal struct {
	AgentID        int64
	CompanyID      int64
	OrganizationID int64
	Capabilities   []string
	NetworkIDs     []int64
}

// TokenInfo is the read-model returned by GET token_info.
type TokenInfo struct {
	AgentID     int64      `json:"agent_id"`
	TokenStatus string     `json:"token_status"`
	TokenPrefix string     `json:"token_prefix,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	RotatedAt   *time.Time `json:"rotated_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastIP      *string    `json:"last_ip,omitempty"`
}

// AuditLogEntry is the read-model returned by GET audit_logs.
type AuditLogEntry struct {
	ID          int64           `json:"id"`
	AgentID     int64           `json:"agent_id"`
	EventType   string          `json:"event_type"`
	ActorUserID *int64          `json:"actor_user_id,omitempty"`
	IPAddress   *string         `json:"ip_address,omitempty"`
	Details     map[string]any  `json:"details"`
	CreatedAt   time.Time       `json:"created_at"`
}
