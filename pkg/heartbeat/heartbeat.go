// Package heartbeat implements the Heartbeat/Liveness Monitor (§4.F): the
// agent-authenticated endpoints that keep last_heartbeat fresh and expose an
// agent's accessible organizations/networks and pending work.
package heartbeat

import (
	"context"
	"encoding/json"

	"github.com/netreach/controlplane/internal/audit"
	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/dispatch"
)

// Service wires heartbeat/ping/pong/status side effects against the
// agents table, the network/organization directory, and the dispatch table.
type Service struct {
	q       *db.Queries
	dispatchTable *dispatch.Table
	audit   *audit.Writer
}

func NewService(q *db.Queries, dispatchTable *dispatch.Table, auditWriter *audit.Writer) *Service {
	return &Service{q: q, dispatchTable: dispatchTable, audit: auditWriter}
}

// HeartbeatRequest is the optional body a heartbeat POST may carry (§6).
type HeartbeatRequest struct {
	Status       string          `json:"status,omitempty"`
	Name         string          `json:"name,omitempty"`
	DiscoveredCount int          `json:"discovered_count,omitempty"`
	SystemInfo   json.RawMessage `json:"system_info,omitempty"`
}

// Heartbeat stamps last_heartbeat/last_used_at, persists any agent-declared
// status, and appends a heartbeat_received audit row (§4.F).
func (s *Service) Heartbeat(ctx context.Context, agent agenttoken.AgentPrincipal, req HeartbeatRequest, clientIP *string) (db.Agent, error) {
	updated, err := s.q.RecordHeartbeat(ctx, agent.AgentID, req.Status, clientIP)
	if err != nil {
		return db.Agent{}, err
	}
	s.audit.Log(audit.Entry{
		AgentID:   agent.AgentID,
		EventType: agenttoken.EventHeartbeat,
		Details:   mustJSON(req),
	})
	return updated, nil
}

// Ping records a caller-to-agent reachability probe (§4.F): symmetric with
// Pong, both refresh last_heartbeat and log their respective audit events.
func (s *Service) Ping(ctx context.Context, agent agenttoken.AgentPrincipal) error {
	if err := s.q.TouchLastUsed(ctx, agent.AgentID, nil); err != nil {
		return err
	}
	if _, err := s.q.RecordHeartbeat(ctx, agent.AgentID, "", nil); err != nil {
		return err
	}
	s.audit.Log(audit.Entry{AgentID: agent.AgentID, EventType: agenttoken.EventPing})
	return nil
}

// Pong records the agent's acknowledgement of a ping.
func (s *Service) Pong(ctx context.Context, agent agenttoken.AgentPrincipal) error {
	if _, err := s.q.RecordHeartbeat(ctx, agent.AgentID, "", nil); err != nil {
		return err
	}
	s.audit.Log(audit.Entry{AgentID: agent.AgentID, EventType: agenttoken.EventPong})
	return nil
}

// UpdateStatus records the agent's self-reported status without otherwise
// touching last_heartbeat semantics beyond what RecordHeartbeat already does.
func (s *Service) UpdateStatus(ctx context.Context, agent agenttoken.AgentPrincipal, status string) (db.Agent, error) {
	return s.q.RecordHeartbeat(ctx, agent.AgentID, status, nil)
}

// AccessibleOrganization is the minimal shape returned by GET /agent/organizations.
type AccessibleOrganization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Organizations returns the single organization this agent belongs to (§3
// Agent: one organization_id per agent).
func (s *Service) Organizations(ctx context.Context, agent agenttoken.AgentPrincipal) ([]AccessibleOrganization, error) {
	org, err := s.q.GetOrganization(ctx, agent.OrganizationID)
	if err != nil {
		return nil, err
	}
	return []AccessibleOrganization{{ID: org.ID, Name: org.Name}}, nil
}

// AccessibleNetwork is the shape returned by GET /agent/networks.
type AccessibleNetwork struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Networks returns every network this agent is bound to (§3 AgentNetworkBinding).
func (s *Service) Networks(ctx context.Context, agent agenttoken.AgentPrincipal) ([]AccessibleNetwork, error) {
	ids, err := s.q.ListBindingsForAgent(ctx, agent.AgentID)
	if err != nil {
		return nil, err
	}
	out := make([]AccessibleNetwork, 0, len(ids))
	for _, id := range ids {
		n, err := s.q.GetNetwork(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, AccessibleNetwork{ID: n.ID, Name: n.Name})
	}
	return out, nil
}

// Poll is the agent's long-poll contract onto the Dispatch Table (§4.C).
func (s *Service) Poll(agent agenttoken.AgentPrincipal) (dispatch.WorkItem, bool) {
	return s.dispatchTable.Poll(agent.AgentID)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
