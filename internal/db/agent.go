package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Agent mirrors the `agents` table (§3 Agent).
type Agent struct {
	ID              int64
	Name            string
	CompanyID       int64
	OrganizationID  int64
	TokenHash       string
	TokenStatus     string
	Capabilities    []string
	Version         string
	DeclaredStatus  string
	LastHeartbeat   pgtype.Timestamptz
	LastUsedAt      pgtype.Timestamptz
	LastIP          *string
	CreatedBy       *int64
	IssuedAt        time.Time
	RotatedAt       pgtype.Timestamptz
	RevokedAt       pgtype.Timestamptz
	ExpiresAt       pgtype.Timestamptz
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const agentColumns = `id, name, company_id, organization_id, token_hash, token_status,
	capabilities, version, declared_status, last_heartbeat, last_used_at, last_ip,
	created_by, issued_at, rotated_at, revoked_at, expires_at, created_at, updated_at`

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.Name, &a.CompanyID, &a.OrganizationID, &a.TokenHash, &a.TokenStatus,
		&a.Capabilities, &a.Version, &a.DeclaredStatus, &a.LastHeartbeat, &a.LastUsedAt, &a.LastIP,
		&a.CreatedBy, &a.IssuedAt, &a.RotatedAt, &a.RevokedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func scanAgents(rows pgx.Rows) ([]Agent, error) {
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAgentParams holds the parameters for registering a new agent.
type CreateAgentParams struct {
	Name           string
	CompanyID      int64
	OrganizationID int64
	TokenHash      string
	Capabilities   []string
	Version        string
	CreatedBy      *int64
}

func (q *Queries) CreateAgent(ctx context.Context, p CreateAgentParams) (Agent, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO agents (name, company_id, organization_id, token_hash, token_status,
			capabilities, version, declared_status, created_by, issued_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, 'offline', $7, now())
		RETURNING `+agentColumns,
		p.Name, p.CompanyID, p.OrganizationID, p.TokenHash, p.Capabilities, p.Version, p.CreatedBy,
	)
	a, err := scanAgent(row)
	if err != nil {
		return Agent{}, fmt.Errorf("creating agent: %w", err)
	}

	if _, err := q.db.Exec(ctx,
		`INSERT INTO agent_token_history (token_hash, agent_id) VALUES ($1, $2)`,
		p.TokenHash, a.ID,
	); err != nil {
		return Agent{}, fmt.Errorf("recording token history: %w", err)
	}
	return a, nil
}

func (q *Queries) GetAgent(ctx context.Context, id int64) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return Agent{}, fmt.Errorf("getting agent %d: %w", id, err)
	}
	return a, nil
}

func (q *Queries) GetAgentByTokenHash(ctx context.Context, hash string) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE token_hash = $1`, hash))
	if err != nil {
		return Agent{}, fmt.Errorf("getting agent by token: %w", err)
	}
	return a, nil
}

// TokenHashEverIssued reports whether a token hash has ever been assigned to
// any agent, active or historical — the uniqueness invariant in §3.
func (q *Queries) TokenHashEverIssued(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agent_token_history WHERE token_hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking token history: %w", err)
	}
	return exists, nil
}

func (q *Queries) ListAgentsByCompany(ctx context.Context, companyID int64) ([]Agent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing agents for company %d: %w", companyID, err)
	}
	return scanAgents(rows)
}

func (q *Queries) DeleteAgent(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (q *Queries) UpdateAgentDetails(ctx context.Context, id int64, name string, capabilities []string) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET name = $2, capabilities = $3, updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns,
		id, name, capabilities,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("updating agent %d: %w", id, err)
	}
	return a, nil
}

// --- Token lifecycle (§4.A) ---

// RotateAgentToken atomically replaces the current token hash. The previous
// hash becomes permanently invalid (it is no longer stored as the current
// hash, and the new hash's history row prevents any future agent reusing
// either value).
func (q *Queries) RotateAgentToken(ctx context.Context, agentID int64, newHash string) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET token_hash = $2, token_status = 'active', rotated_at = now(),
			revoked_at = NULL, updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns,
		agentID, newHash,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("rotating token for agent %d: %w", agentID, err)
	}
	if _, err := q.db.Exec(ctx,
		`INSERT INTO agent_token_history (token_hash, agent_id) VALUES ($1, $2)`,
		newHash, agentID,
	); err != nil {
		return Agent{}, fmt.Errorf("recording rotated token history: %w", err)
	}
	return a, nil
}

func (q *Queries) RevokeAgentToken(ctx context.Context, agentID int64) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET token_status = 'revoked', revoked_at = now(), updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns, agentID,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("revoking token for agent %d: %w", agentID, err)
	}
	return a, nil
}

func (q *Queries) ActivateAgentToken(ctx context.Context, agentID int64) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET token_status = 'active', revoked_at = NULL, updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns, agentID,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("activating token for agent %d: %w", agentID, err)
	}
	return a, nil
}

func (q *Queries) ExtendAgentToken(ctx context.Context, agentID int64, newExpiry time.Time) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET expires_at = $2, updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns, agentID, newExpiry,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("extending token for agent %d: %w", agentID, err)
	}
	return a, nil
}

// --- Heartbeat / liveness (§4.F) ---

// RecordHeartbeat stamps last_heartbeat/last_used_at and persists any
// agent-declared status/ip. It does not touch token_status, so a revoked
// token's heartbeat (rejected earlier at the auth layer) never reaches here.
func (q *Queries) RecordHeartbeat(ctx context.Context, agentID int64, declaredStatus string, ip *string) (Agent, error) {
	a, err := scanAgent(q.db.QueryRow(ctx, `
		UPDATE agents SET last_heartbeat = now(), last_used_at = now(),
			declared_status = COALESCE(NULLIF($2, ''), declared_status),
			last_ip = COALESCE($3, last_ip), updated_at = now()
		WHERE id = $1 RETURNING `+agentColumns,
		agentID, declaredStatus, ip,
	))
	if err != nil {
		return Agent{}, fmt.Errorf("recording heartbeat for agent %d: %w", agentID, err)
	}
	return a, nil
}

func (q *Queries) TouchLastUsed(ctx context.Context, agentID int64, ip *string) error {
	_, err := q.db.Exec(ctx, `UPDATE agents SET last_used_at = now(), last_ip = COALESCE($2, last_ip) WHERE id = $1`, agentID, ip)
	if err != nil {
		return fmt.Errorf("touching last_used_at for agent %d: %w", agentID, err)
	}
	return nil
}

// --- Network bindings (§3 AgentNetworkBinding) ---

type NetworkBinding struct {
	AgentID        int64
	NetworkID      int64
	CompanyID      int64
	OrganizationID int64
}

func (q *Queries) CreateNetworkBinding(ctx context.Context, b NetworkBinding) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO agent_network_bindings (agent_id, network_id, company_id, organization_id)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		b.AgentID, b.NetworkID, b.CompanyID, b.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("creating network binding: %w", err)
	}
	return nil
}

func (q *Queries) ListBindingsForAgent(ctx context.Context, agentID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT network_id FROM agent_network_bindings WHERE agent_id = $1 ORDER BY network_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing bindings for agent %d: %w", agentID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning binding row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOnlineAgentsForNetwork implements the dispatch selection query of
// §4.B: online, token-active, within dispatch-freshness, bound to the
// network, ordered by agent id ascending.
const agentColumnsAliased = "a.id, a.name, a.company_id, a.organization_id, a.token_hash, a.token_status, " +
	"a.capabilities, a.version, a.declared_status, a.last_heartbeat, a.last_used_at, a.last_ip, " +
	"a.created_by, a.issued_at, a.rotated_at, a.revoked_at, a.expires_at, a.created_at, a.updated_at"

func (q *Queries) ListOnlineAgentsForNetwork(ctx context.Context, networkID int64, onlineThreshold, dispatchFreshness time.Duration) ([]Agent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+agentColumnsAliased+`
		FROM agents a
		JOIN agent_network_bindings b ON b.agent_id = a.id
		WHERE b.network_id = $1
			AND a.token_status = 'active'
			AND a.last_heartbeat IS NOT NULL
			AND now() - a.last_heartbeat <= make_interval(secs => $2)
			AND now() - a.last_heartbeat <= make_interval(secs => $3)
		ORDER BY a.id ASC`,
		networkID, onlineThreshold.Seconds(), dispatchFreshness.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting online agents for network %d: %w", networkID, err)
	}
	return scanAgents(rows)
}
