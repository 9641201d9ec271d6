package session

import (
	"sync"
	"time"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/telemetry"
)

// entry pairs a Session with the mutex that serializes UpdateProgress calls
// against it (§5: "update_progress calls for the same session are
// serialized by the session's mutex").
type entry struct {
	mu      sync.Mutex
	session Session
}

// Table is the in-memory SessionTable of §3.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*entry)}
}

// Create starts a new session in status pending. sessionID must be unique
// among currently-active sessions (§4.D).
func (t *Table) Create(sessionID string, networkID int64, agentIDs []int64, totalIPs int, source string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[sessionID]; exists {
		return Session{}, apierr.Conflict("session id already in use")
	}

	agentStatus := make(map[int64]string, len(agentIDs))
	for _, id := range agentIDs {
		agentStatus[id] = AgentRunning
	}

	s := Session{
		ID:                sessionID,
		NetworkID:         networkID,
		AgentIDs:          agentIDs,
		Status:            StatusPending,
		Progress:          0,
		StartedAt:         time.Now().UTC(),
		DiscoveredDevices: []DiscoveredDevice{},
		Errors:            []string{},
		TotalIPs:          totalIPs,
		Source:            source,
		agentStatus:       agentStatus,
	}
	t.sessions[sessionID] = &entry{session: s}
	return s, nil
}

func (t *Table) lookup(sessionID string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[sessionID]
	return e, ok
}

// Get returns a copy of the current session state.
func (t *Table) Get(sessionID string) (Session, error) {
	e, ok := t.lookup(sessionID)
	if !ok {
		return Session{}, apierr.NotFound("session not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// ListActive returns every non-terminal session, ordered by started_at
// ascending for stable pagination.
func (t *Table) ListActive() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.sessions))
	for _, e := range t.sessions {
		e.mu.Lock()
		if !e.session.isTerminal() {
			out = append(out, e.session)
		}
		e.mu.Unlock()
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartedAt.Before(out[j-1].StartedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// UpdateProgress accumulates devices/errors, recomputes overall progress,
// and transitions status per §4.D. A session in a terminal state rejects
// further updates.
func (t *Table) UpdateProgress(sessionID string, agentID int64, processedIPs int, newDevices []DiscoveredDevice, errs []string, agentStatus string) (Session, error) {
	e, ok := t.lookup(sessionID)
	if !ok {
		return Session{}, apierr.NotFound("session not found")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.session
	if s.isTerminal() {
		return Session{}, apierr.Conflict("session is already in a terminal state")
	}

	if s.agentStatus == nil {
		s.agentStatus = make(map[int64]string)
	}
	s.agentStatus[agentID] = agentStatus

	s.ProcessedIPs += processedIPs
	s.DiscoveredDevices = append(s.DiscoveredDevices, newDevices...)
	s.Errors = append(s.Errors, errs...)

	if s.TotalIPs > 0 {
		computed := int(float64(s.ProcessedIPs) / float64(s.TotalIPs) * 100)
		if computed > s.Progress {
			s.Progress = computed
		}
	}
	if s.Progress > 100 {
		s.Progress = 100
	}

	if s.Status == StatusPending {
		s.Status = StatusStarted
	}

	allCompleted, allFailed := true, true
	for _, id := range s.AgentIDs {
		st := s.agentStatus[id]
		if st != AgentCompleted {
			allCompleted = false
		}
		if st != AgentFailed {
			allFailed = false
		}
	}

	switch {
	case allCompleted || s.Progress >= 100:
		s.Status = StatusCompleted
		s.Progress = 100
		now := time.Now().UTC()
		s.CompletedAt = &now
		telemetry.SessionOutcomesTotal.WithLabelValues("completed").Inc()
	case allFailed:
		s.Status = StatusFailed
		now := time.Now().UTC()
		s.CompletedAt = &now
		telemetry.SessionOutcomesTotal.WithLabelValues("failed").Inc()
	default:
		s.Status = StatusInProgress
	}

	return *s, nil
}

// Cancel transitions a session to cancelled. Idempotent on an already
// terminal session other than cancelled itself, which is a Conflict.
func (t *Table) Cancel(sessionID string) (Session, error) {
	e, ok := t.lookup(sessionID)
	if !ok {
		return Session{}, apierr.NotFound("session not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status == StatusCancelled {
		return e.session, nil
	}
	if e.session.isTerminal() {
		return Session{}, apierr.Conflict("session already reached a terminal state")
	}

	e.session.Status = StatusCancelled
	now := time.Now().UTC()
	e.session.CompletedAt = &now
	telemetry.SessionOutcomesTotal.WithLabelValues("cancelled").Inc()
	return e.session, nil
}

// Retry increments retry_count, resets status to retrying, and stamps
// retry_at so subsequent progress updates can resume (§4.D, S5). Progress
// and processed_ips are reset to zero: a retry re-dispatches the full
// WorkItem to start over, so the prior run's progress no longer reflects
// any outstanding work.
func (t *Table) Retry(sessionID string) (Session, error) {
	e, ok := t.lookup(sessionID)
	if !ok {
		return Session{}, apierr.NotFound("session not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != StatusFailed && e.session.Status != StatusCancelled {
		return Session{}, apierr.Conflict("only failed or cancelled sessions can be retried")
	}

	e.session.RetryCount++
	e.session.Status = StatusRetrying
	now := time.Now().UTC()
	e.session.RetryAt = &now
	e.session.CompletedAt = nil
	e.session.Progress = 0
	e.session.ProcessedIPs = 0
	for id := range e.session.agentStatus {
		e.session.agentStatus[id] = AgentRunning
	}
	return e.session, nil
}

// Prune deletes sessions whose completed_at is older than maxAge, or whose
// started_at is older than maxAge when terminal-state tracking never
// completed (§4.D). Returns the number of sessions removed.
func (t *Table) Prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, e := range t.sessions {
		e.mu.Lock()
		stale := (e.session.CompletedAt != nil && e.session.CompletedAt.Before(cutoff)) ||
			(e.session.CompletedAt == nil && e.session.StartedAt.Before(cutoff))
		e.mu.Unlock()
		if stale {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}
