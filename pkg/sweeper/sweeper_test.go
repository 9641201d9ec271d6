package sweeper

import (
	"strings"
	"testing"
)

func TestBackgroundSessionIDFormat(t *testing.T) {
	id := backgroundSessionID()
	if !strings.HasPrefix(id, "background_status_") {
		t.Fatalf("expected background_status_ prefix, got %q", id)
	}
	suffix := strings.TrimPrefix(id, "background_status_")
	if len(suffix) != 8 {
		t.Fatalf("expected an 8-char uuid suffix, got %q (len %d)", suffix, len(suffix))
	}
}

func TestBackgroundSessionIDUnique(t *testing.T) {
	if backgroundSessionID() == backgroundSessionID() {
		t.Fatal("expected distinct session ids across calls")
	}
}
