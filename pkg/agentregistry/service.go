package agentregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/permission"
)

// tokenIssuer is the slice of *agenttoken.Store the registry needs; kept
// narrow so tests can fake it without standing up a real Store.
type tokenIssuer interface {
	IsTokenHashTaken(ctx context.Context, hash string) (bool, error)
	RecordIssued(ctx context.Context, agentID int64, actorUserID *int64, raw string)
}

// Service implements §4.B's operations, including the registration
// permission invariant grounded on the original agent_service.py's
// register_agent checks.
type Service struct {
	q               *db.Queries
	tokens          tokenIssuer
	oracle          permission.Oracle
	onlineThreshold time.Duration
	dispatchFresh   time.Duration
}

func NewService(dbtx db.DBTX, tokens tokenIssuer, oracle permission.Oracle, onlineThreshold, dispatchFresh time.Duration) *Service {
	return &Service{
		q:               db.New(dbtx),
		tokens:          tokens,
		oracle:          oracle,
		onlineThreshold: onlineThreshold,
		dispatchFresh:   dispatchFresh,
	}
}

// RegisterRequest is the body of POST /agents/register.
type RegisterRequest struct {
	Name           string   `json:"name" validate:"required"`
	OrganizationID int64    `json:"organization_id" validate:"required"`
	NetworkIDs     []int64  `json:"network_ids" validate:"required,min=1"`
	Capabilities   []string `json:"capabilities"`
	Version        string   `json:"version"`
}

// Register validates the caller's permission and the organization/network
// pairing, mints a token, and creates the agent plus its network bindings.
func (s *Service) Register(ctx context.Context, actor permission.Identity, req RegisterRequest) (Agent, string, error) {
	org, err := s.q.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, "", apierr.Validation("organization does not exist")
		}
		return Agent{}, "", apierr.Internal("loading organization", err)
	}

	if err := s.oracle.CanRegisterAgent(ctx, actor, org.CompanyID); err != nil {
		return Agent{}, "", err
	}

	for _, netID := range req.NetworkIDs {
		net, err := s.q.GetNetwork(ctx, netID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Agent{}, "", apierr.Validation(fmt.Sprintf("network %d does not exist", netID))
			}
			return Agent{}, "", apierr.Internal("loading network", err)
		}
		if net.OrganizationID != req.OrganizationID {
			return Agent{}, "", apierr.Validation(fmt.Sprintf("network %d does not belong to organization %d", netID, req.OrganizationID))
		}
	}

	var raw, hash string
	for attempt := 0; attempt < 5; attempt++ {
		raw, hash = agenttoken.GenerateToken()
		taken, err := s.tokens.IsTokenHashTaken(ctx, hash)
		if err != nil {
			return Agent{}, "", err
		}
		if !taken {
			break
		}
	}

	createdBy := actor.UserID
	row, err := s.q.CreateAgent(ctx, db.CreateAgentParams{
		Name:           req.Name,
		CompanyID:      org.CompanyID,
		OrganizationID: req.OrganizationID,
		TokenHash:      hash,
		Capabilities:   req.Capabilities,
		Version:        req.Version,
		CreatedBy:      &createdBy,
	})
	if err != nil {
		return Agent{}, "", apierr.Internal("creating agent", err)
	}

	for _, netID := range req.NetworkIDs {
		if err := s.q.CreateNetworkBinding(ctx, db.NetworkBinding{
			AgentID:        row.ID,
			NetworkID:      netID,
			CompanyID:      org.CompanyID,
			OrganizationID: req.OrganizationID,
		}); err != nil {
			return Agent{}, "", apierr.Internal("binding agent to network", err)
		}
	}

	s.tokens.RecordIssued(ctx, row.ID, &createdBy, raw)

	agent := fromRow(row, req.NetworkIDs, time.Now().UTC(), s.onlineThreshold)
	return agent, raw, nil
}

// Get returns a single agent by id.
func (s *Service) Get(ctx context.Context, agentID int64) (Agent, error) {
	row, err := s.q.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, apierr.NotFound("agent not found")
		}
		return Agent{}, apierr.Internal("loading agent", err)
	}
	networkIDs, err := s.q.ListBindingsForAgent(ctx, agentID)
	if err != nil {
		return Agent{}, apierr.Internal("loading network bindings", err)
	}
	return fromRow(row, networkIDs, time.Now().UTC(), s.onlineThreshold), nil
}

// List returns every agent belonging to a company.
func (s *Service) List(ctx context.Context, companyID int64) ([]Agent, error) {
	rows, err := s.q.ListAgentsByCompany(ctx, companyID)
	if err != nil {
		return nil, apierr.Internal("listing agents", err)
	}
	now := time.Now().UTC()
	out := make([]Agent, 0, len(rows))
	for _, row := range rows {
		networkIDs, err := s.q.ListBindingsForAgent(ctx, row.ID)
		if err != nil {
			return nil, apierr.Internal("loading network bindings", err)
		}
		out = append(out, fromRow(row, networkIDs, now, s.onlineThreshold))
	}
	return out, nil
}

// Update changes an agent's name/capabilities.
func (s *Service) Update(ctx context.Context, agentID int64, name string, capabilities []string) (Agent, error) {
	row, err := s.q.UpdateAgentDetails(ctx, agentID, name, capabilities)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, apierr.NotFound("agent not found")
		}
		return Agent{}, apierr.Internal("updating agent", err)
	}
	networkIDs, err := s.q.ListBindingsForAgent(ctx, agentID)
	if err != nil {
		return Agent{}, apierr.Internal("loading network bindings", err)
	}
	return fromRow(row, networkIDs, time.Now().UTC(), s.onlineThreshold), nil
}

// Delete removes an agent; cascades to bindings and audit rows per §3.
func (s *Service) Delete(ctx context.Context, agentID int64) error {
	if err := s.q.DeleteAgent(ctx, agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("agent not found")
		}
		return apierr.Internal("deleting agent", err)
	}
	return nil
}

// AgentSummary is the minimal shape the dispatch path needs.
type AgentSummary struct {
	ID             int64
	CompanyID      int64
	OrganizationID int64
}

// SelectOnlineAgent implements §4.B's selection query: online, token-active,
// bound to the network, within dispatch freshness, tie-broken by agent id
// ascending. When subset is non-empty, only those agent ids are eligible.
func (s *Service) SelectOnlineAgent(ctx context.Context, networkID int64, subset []int64) (AgentSummary, error) {
	candidates, err := s.q.ListOnlineAgentsForNetwork(ctx, networkID, s.onlineThreshold, s.dispatchFresh)
	if err != nil {
		return AgentSummary{}, apierr.Internal("selecting online agent", err)
	}

	allowed := func(id int64) bool {
		if len(subset) == 0 {
			return true
		}
		for _, s := range subset {
			if s == id {
				return true
			}
		}
		return false
	}

	for _, c := range candidates {
		if allowed(c.ID) {
			return AgentSummary{ID: c.ID, CompanyID: c.CompanyID, OrganizationID: c.OrganizationID}, nil
		}
	}
	return AgentSummary{}, apierr.NoCapacity("No online agent available for this network")
}
