package session

import (
	"testing"
	"time"
)

func TestCreateRejectsDuplicateID(t *testing.T) {
	table := NewTable()
	if _, err := table.Create("discovery_abc12345", 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := table.Create("discovery_abc12345", 3, []int64{11}, 4, SourceUser); err == nil {
		t.Fatal("expected duplicate session id to be rejected")
	}
}

func TestProgressMonotonic(t *testing.T) {
	table := NewTable()
	id := "discovery_mono0001"
	if _, err := table.Create(id, 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}

	s, err := table.UpdateProgress(id, 11, 2, nil, nil, AgentRunning)
	if err != nil {
		t.Fatal(err)
	}
	if s.Progress != 50 {
		t.Fatalf("expected progress 50, got %d", s.Progress)
	}

	s, err = table.UpdateProgress(id, 11, 2, nil, nil, AgentCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if s.Progress != 100 || s.Status != StatusCompleted {
		t.Fatalf("expected completed at 100%%, got status=%s progress=%d", s.Status, s.Progress)
	}

	if _, err := table.UpdateProgress(id, 11, 1, nil, nil, AgentCompleted); err == nil {
		t.Fatal("expected terminal session to reject further updates")
	}
}

func TestHappyDiscoveryScenario(t *testing.T) {
	// Grounds §8 scenario S1: 2 reachable + 2 errors out of 4 total IPs.
	table := NewTable()
	id := "discovery_s1_000011"
	if _, err := table.Create(id, 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}

	devices := []DiscoveredDevice{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}
	errs := []string{"10.0.0.3: timeout", "10.0.0.4: timeout"}

	s, err := table.UpdateProgress(id, 11, 4, devices, errs, AgentCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if s.Progress != 100 || s.Status != StatusCompleted {
		t.Fatalf("expected completed/100, got %+v", s)
	}
	if len(s.DiscoveredDevices) != 2 || len(s.Errors) != 2 {
		t.Fatalf("expected 2 devices and 2 errors, got %+v", s)
	}
}

func TestRetryResetsToRetrying(t *testing.T) {
	table := NewTable()
	id := "discovery_abc_retry"
	if _, err := table.Create(id, 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}
	if _, err := table.UpdateProgress(id, 11, 4, nil, []string{"boom"}, AgentFailed); err != nil {
		t.Fatal(err)
	}

	s, err := table.Retry(id)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusRetrying || s.RetryCount != 1 || s.RetryAt == nil {
		t.Fatalf("expected retrying state, got %+v", s)
	}
}

func TestPruneRemovesOldCompletedSessions(t *testing.T) {
	table := NewTable()
	id := "discovery_old_00001"
	if _, err := table.Create(id, 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}
	if _, err := table.UpdateProgress(id, 11, 4, nil, nil, AgentCompleted); err != nil {
		t.Fatal(err)
	}

	e := table.sessions[id]
	past := time.Now().UTC().Add(-25 * time.Hour)
	e.session.CompletedAt = &past

	removed := table.Prune(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 session pruned, got %d", removed)
	}
	if _, err := table.Get(id); err == nil {
		t.Fatal("expected session to be gone after prune")
	}
}

func TestListActiveExcludesTerminal(t *testing.T) {
	table := NewTable()
	if _, err := table.Create("discovery_active_01", 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}
	done := "discovery_done_0001"
	if _, err := table.Create(done, 3, []int64{11}, 4, SourceUser); err != nil {
		t.Fatal(err)
	}
	if _, err := table.UpdateProgress(done, 11, 4, nil, nil, AgentCompleted); err != nil {
		t.Fatal(err)
	}

	active := table.ListActive()
	if len(active) != 1 || active[0].ID != "discovery_active_01" {
		t.Fatalf("expected only the pending session to be active, got %+v", active)
	}
}
