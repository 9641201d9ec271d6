package dispatch

import (
	"sync"
	"testing"
)

func TestPollBeforeEnqueueReturnsNone(t *testing.T) {
	table := NewTable()
	if _, ok := table.Poll(1); ok {
		t.Fatal("expected no item before any enqueue")
	}
}

func TestStatusTestReadAndRemove(t *testing.T) {
	table := NewTable()
	table.Enqueue(1, WorkItem{Type: TypeStatusTest, SessionID: "background_abc12345"})

	item, ok := table.Poll(1)
	if !ok || item.Type != TypeStatusTest {
		t.Fatalf("expected status_test item, got %+v ok=%v", item, ok)
	}
	if _, ok := table.Poll(1); ok {
		t.Fatal("status_test item should be removed after poll")
	}
}

func TestDiscoveryReadButRetained(t *testing.T) {
	table := NewTable()
	table.Enqueue(1, WorkItem{Type: TypeDiscovery, SessionID: "discovery_abc12345"})

	first, ok := table.Poll(1)
	if !ok {
		t.Fatal("expected discovery item on first poll")
	}
	second, ok := table.Poll(1)
	if !ok || second.SessionID != first.SessionID {
		t.Fatal("discovery item must remain pollable until acknowledged")
	}

	table.Acknowledge(1, first.SessionID)
	if _, ok := table.Poll(1); ok {
		t.Fatal("item should be gone after acknowledge")
	}
}

func TestAcknowledgeMismatchIsNoOp(t *testing.T) {
	table := NewTable()
	table.Enqueue(1, WorkItem{Type: TypeDiscovery, SessionID: "discovery_current"})
	table.Acknowledge(1, "discovery_stale")

	if _, ok := table.Poll(1); !ok {
		t.Fatal("mismatched acknowledge must not remove the current item")
	}
}

func TestEnqueueOverwritesPriorItem(t *testing.T) {
	table := NewTable()
	table.Enqueue(1, WorkItem{Type: TypeStatusTest, SessionID: "background_1"})
	table.Enqueue(1, WorkItem{Type: TypeDiscovery, SessionID: "discovery_2"})

	item, ok := table.Poll(1)
	if !ok || item.SessionID != "discovery_2" {
		t.Fatalf("expected the later enqueue to win, got %+v", item)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	table := NewTable()
	table.Cancel(1)
	table.Enqueue(1, WorkItem{Type: TypeDiscovery, SessionID: "discovery_x"})
	table.Cancel(1)
	table.Cancel(1)
	if _, ok := table.Poll(1); ok {
		t.Fatal("expected no item after cancel")
	}
}

// TestConcurrentEnqueuePollNoTornReads covers §8 property 2: under
// concurrent enqueue/poll, poll never observes a torn item — every
// successful poll returns a fully-formed WorkItem from some completed
// enqueue call.
func TestConcurrentEnqueuePollNoTornReads(t *testing.T) {
	table := NewTable()
	const n = 200
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			table.Enqueue(1, WorkItem{Type: TypeDiscovery, SessionID: "discovery_race", NetworkID: int64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			item, ok := table.Poll(1)
			if ok && item.SessionID != "discovery_race" {
				t.Errorf("observed torn item: %+v", item)
			}
		}
	}()
	wg.Wait()
}
