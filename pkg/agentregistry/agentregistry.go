// Package agentregistry implements the Agent Registry (§4.B): CRUD over
// Agent and AgentNetworkBinding, and the derived online/offline status
// every read path applies.
package agentregistry

import (
	"time"

	"github.com/netreach/controlplane/internal/db"
)

// DefaultOnlineThreshold is §4.B's T_online default.
const DefaultOnlineThreshold = 60 * time.Second

// DefaultDispatchFreshness is §4.B's T_dispatch_fresh default.
const DefaultDispatchFreshness = 5 * time.Minute

// Capability is one of the closed vocabulary §9 names. Callers normalize on
// read; the registry does not reject unrecognized values, only documents
// the closed set a full deployment enforces upstream.
const (
	CapabilitySNMPDiscovery    = "snmp_discovery"
	CapabilitySSHConfig        = "ssh_config"
	CapabilityHealthMonitoring = "health_monitoring"
	CapabilityTopologyMapping  = "topology_mapping"
	CapabilityComplianceScan   = "compliance_scanning"
	CapabilityBackupMgmt       = "backup_management"
)

// DerivedStatus implements §4.B's derivation rule and §8 property 5: online
// iff now-last_heartbeat <= threshold (boundary inclusive) AND the token is
// active. It is the single source of truth both the HTTP read path and the
// dispatch-selection query (internal/db.ListOnlineAgentsForNetwork) must
// agree with.
func DerivedStatus(lastHeartbeat *time.Time, tokenStatus string, now time.Time, threshold time.Duration) string {
	if tokenStatus != "active" {
		return "offline"
	}
	if lastHeartbeat == nil {
		return "offline"
	}
	if now.Sub(*lastHeartbeat) <= threshold {
		return "online"
	}
	return "offline"
}

// Agent is the read-model returned to API callers; it never exposes the
// token hash.
type Agent struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	CompanyID      int64     `json:"company_id"`
	OrganizationID int64     `json:"organization_id"`
	TokenStatus    string    `json:"token_status"`
	Capabilities   []string  `json:"capabilities"`
	Version        string    `json:"version"`
	Status         string    `json:"status"`
	NetworkIDs     []int64   `json:"network_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

func fromRow(a db.Agent, networkIDs []int64, now time.Time, threshold time.Duration) Agent {
	var lastHeartbeat *time.Time
	if a.LastHeartbeat.Valid {
		t := a.LastHeartbeat.Time
		lastHeartbeat = &t
	}
	return Agent{
		ID:             a.ID,
		Name:           a.Name,
		CompanyID:      a.CompanyID,
		OrganizationID: a.OrganizationID,
		TokenStatus:    a.TokenStatus,
		Capabilities:   normalizeCapabilities(a.Capabilities),
		Version:        a.Version,
		Status:         DerivedStatus(lastHeartbeat, a.TokenStatus, now, threshold),
		NetworkIDs:     networkIDs,
		CreatedAt:      a.CreatedAt,
	}
}

func normalizeCapabilities(caps []string) []string {
	if caps == nil {
		return []string{}
	}
	return caps
}
