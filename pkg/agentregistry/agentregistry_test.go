package agentregistry

import (
	"testing"
	"time"
)

func TestDerivedStatusOnline(t *testing.T) {
	now := time.Now().UTC()
	hb := now.Add(-10 * time.Second)
	if got := DerivedStatus(&hb, "active", now, DefaultOnlineThreshold); got != "online" {
		t.Fatalf("expected online, got %q", got)
	}
}

func TestDerivedStatusOnBoundaryIsOnline(t *testing.T) {
	now := time.Now().UTC()
	hb := now.Add(-DefaultOnlineThreshold)
	if got := DerivedStatus(&hb, "active", now, DefaultOnlineThreshold); got != "online" {
		t.Fatalf("expected boundary to be inclusive (online), got %q", got)
	}
}

func TestDerivedStatusStale(t *testing.T) {
	now := time.Now().UTC()
	hb := now.Add(-61 * time.Second)
	if got := DerivedStatus(&hb, "active", now, DefaultOnlineThreshold); got != "offline" {
		t.Fatalf("expected offline past threshold, got %q", got)
	}
}

func TestDerivedStatusRevokedTokenAlwaysOffline(t *testing.T) {
	now := time.Now().UTC()
	hb := now.Add(-1 * time.Second)
	if got := DerivedStatus(&hb, "revoked", now, DefaultOnlineThreshold); got != "offline" {
		t.Fatalf("expected revoked token to be offline regardless of heartbeat recency, got %q", got)
	}
}

func TestDerivedStatusNilHeartbeatIsOffline(t *testing.T) {
	if got := DerivedStatus(nil, "active", time.Now().UTC(), DefaultOnlineThreshold); got != "offline" {
		t.Fatalf("expected nil heartbeat to be offline, got %q", got)
	}
}

func TestNormalizeCapabilitiesNilBecomesEmptySlice(t *testing.T) {
	got := normalizeCapabilities(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
