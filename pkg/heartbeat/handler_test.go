package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	r.RemoteAddr = "10.0.0.9:4000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("expected forwarded address, got %q", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	r.RemoteAddr = "10.0.0.9:4000"

	if got := clientIP(r); got != "10.0.0.9:4000" {
		t.Fatalf("expected remote addr fallback, got %q", got)
	}
}
