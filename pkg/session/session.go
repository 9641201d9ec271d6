// Package session implements the Session Tracker (§4.D): an in-memory map
// of active discovery/refresh/status-sweep sessions and their progress.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status values a Session moves through (§3).
const (
	StatusPending   = "pending"
	StatusStarted   = "started"
	StatusInProgress = "in_progress"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRetrying  = "retrying"
)

// Source values (§3).
const (
	SourceUser       = "user"
	SourceBackground = "background"
	SourceRefresh    = "refresh"
)

// Agent-reported per-agent status values accepted by UpdateProgress (§4.D).
const (
	AgentRunning   = "running"
	AgentCompleted = "completed"
	AgentFailed    = "failed"
)

// DiscoveredDevice is the minimal shape accumulated into Session's
// discovered_devices list.
type DiscoveredDevice struct {
	IP   string `json:"ip"`
	Name string `json:"name,omitempty"`
}

// Session is §3's Session entity.
type Session struct {
	ID                string             `json:"id"`
	NetworkID         int64              `json:"network_id"`
	AgentIDs          []int64            `json:"agent_ids"`
	Status            string             `json:"status"`
	Progress          int                `json:"progress"`
	StartedAt         time.Time          `json:"started_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	DiscoveredDevices []DiscoveredDevice `json:"discovered_devices"`
	Errors            []string           `json:"errors"`
	TotalIPs          int                `json:"total_ips"`
	ProcessedIPs      int                `json:"processed_ips"`
	RetryCount        int                `json:"retry_count"`
	RetryAt           *time.Time         `json:"retry_at,omitempty"`
	Source            string             `json:"source"`

	// agentStatus tracks each assigned agent's last reported status so the
	// overall status can require ALL agents to agree before transitioning
	// to completed/failed (§4.D update_progress).
	agentStatus map[int64]string
}

func (s Session) isTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// NewID builds a session id following §4.D's convention:
// "${source}_${uuid8}".
func NewID(source string) string {
	full := strings.ReplaceAll(uuid.New().String(), "-", "")
	return source + "_" + full[:8]
}
