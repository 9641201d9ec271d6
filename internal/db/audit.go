package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AgentTokenAuditEntry mirrors `agent_token_audit_log` (§4.A Token Store
// audit trail: issued, rotated, revoked, activated, extended, heartbeat
// rejections).
type AgentTokenAuditEntry struct {
	ID          int64
	AgentID     int64
	EventType   string
	ActorUserID *int64
	IPAddress   *string
	Details     json.RawMessage
	CreatedAt   time.Time
}

type CreateAuditEntryParams struct {
	AgentID     int64
	EventType   string
	ActorUserID *int64
	IPAddress   *string
	Details     json.RawMessage
}

func (q *Queries) CreateAuditEntry(ctx context.Context, p CreateAuditEntryParams) error {
	details := p.Details
	if details == nil {
		details = json.RawMessage(`{}`)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO agent_token_audit_log (agent_id, event_type, actor_user_id, ip_address, details)
		VALUES ($1, $2, $3, $4, $5)`,
		p.AgentID, p.EventType, p.ActorUserID, p.IPAddress, details,
	)
	if err != nil {
		return fmt.Errorf("recording audit entry for agent %d: %w", p.AgentID, err)
	}
	return nil
}

// ListAuditEntries returns the most recent entries for an agent, newest
// first, for the token_info/audit_logs read path (§4.A).
func (q *Queries) ListAuditEntries(ctx context.Context, agentID int64, limit, offset int32) ([]AgentTokenAuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, agent_id, event_type, actor_user_id, ip_address, details, created_at
		FROM agent_token_audit_log
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		agentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var out []AgentTokenAuditEntry
	for rows.Next() {
		var e AgentTokenAuditEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.EventType, &e.ActorUserID, &e.IPAddress, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
