package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewNotifier("", "", discardLogger())
	if n.IsEnabled() {
		t.Fatal("expected notifier without a bot token to be disabled")
	}
	// Must not panic even though there is no Slack client.
	n.NoCapacity(context.Background(), 3, "user:42")
	n.SessionFailed(context.Background(), "discovery_abc12345", 3, []string{"boom"})
}

func TestNotifierRequiresBothTokenAndChannel(t *testing.T) {
	if NewNotifier("xoxb-token", "", discardLogger()).IsEnabled() {
		t.Fatal("expected notifier without a channel to be disabled")
	}
	if NewNotifier("", "#ops", discardLogger()).IsEnabled() {
		t.Fatal("expected notifier without a token to be disabled")
	}
}
