// Package dispatch implements the in-memory Dispatch Table (§4.C): a
// per-agent mailbox of at most one pending WorkItem, bridging the
// controller-issues-work / agent-pulls-work gap for agents behind NAT.
package dispatch

import (
	"sync"

	"github.com/netreach/controlplane/internal/telemetry"
)

// Item type tags (§3 WorkItem).
const (
	TypeDiscovery       = "discovery"
	TypeStatusTest      = "status_test"
	TypeTopologyRefresh = "topology_refresh"
)

// Source tags a WorkItem's originator.
const (
	SourceUser       = "user"
	SourceBackground = "background"
	SourceRefresh    = "refresh"
)

// WorkItem is the discriminated record handed to an agent (§3).
type WorkItem struct {
	Type      string
	SessionID string
	NetworkID int64
	Source    string
	Payload   any
}

// Table is the PendingWork map of §3/§5: one mutex, O(1) bodies, no I/O
// under the lock. Concurrent enqueue/poll/cancel from HTTP handlers and the
// sweeper are all safe.
type Table struct {
	mu    sync.Mutex
	items map[int64]WorkItem
}

func NewTable() *Table {
	return &Table{items: make(map[int64]WorkItem)}
}

// Enqueue inserts or overwrites the current item for agentID. A prior
// undelivered item is silently replaced (§4.C, §8 boundary behavior): the
// control plane's latest intent supersedes earlier ones.
func (t *Table) Enqueue(agentID int64, item WorkItem) {
	t.mu.Lock()
	t.items[agentID] = item
	t.mu.Unlock()
	telemetry.DispatchEnqueuedTotal.WithLabelValues(item.Type).Inc()
}

// Poll returns the pending item for agentID, if any. status_test items are
// read-and-removed (fire-and-forget); discovery and topology_refresh items
// are read-but-retained until an explicit Acknowledge, so an agent
// crash-and-reconnect observes the same work (§4.C, §9 last bullet).
func (t *Table) Poll(agentID int64) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[agentID]
	if !ok {
		telemetry.DispatchPollTotal.WithLabelValues("empty").Inc()
		return WorkItem{}, false
	}

	if item.Type == TypeStatusTest {
		delete(t.items, agentID)
	}
	telemetry.DispatchPollTotal.WithLabelValues("hit").Inc()
	return item, true
}

// Acknowledge clears a retained discovery/topology_refresh item once the
// agent's work against sessionID is done. A mismatched or absent item is a
// no-op (the agent may be acknowledging stale work after a reconnect).
func (t *Table) Acknowledge(agentID int64, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.items[agentID]; ok && item.SessionID == sessionID {
		delete(t.items, agentID)
	}
}

// Cancel drops any outstanding item for agentID. Idempotent.
func (t *Table) Cancel(agentID int64) {
	t.mu.Lock()
	delete(t.items, agentID)
	t.mu.Unlock()
}

// Peek returns the pending item without consuming it, for diagnostics/tests.
func (t *Table) Peek(agentID int64) (WorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[agentID]
	return item, ok
}
