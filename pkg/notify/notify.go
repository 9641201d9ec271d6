// Package notify sends operational notices to a Slack channel: a network
// with no online agent to service a dispatch, and a discovery session that
// reaches a terminal failed state.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/netreach/controlplane/internal/telemetry"
)

// Notifier posts operational notices to a single configured channel. A
// notifier constructed without a bot token is a no-op, matching the gate the
// ambient stack expects for optional integrations.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NoCapacity reports that networkID had no online agent available to
// service a dispatch attempt (§4.B SelectOnlineAgent returning NoCapacity).
func (n *Notifier) NoCapacity(ctx context.Context, networkID int64, requestedBy string) {
	text := fmt.Sprintf(":warning: No online agent available for network %d (requested by %s)", networkID, requestedBy)
	n.post(ctx, "no_capacity", text)
}

// SessionFailed reports that a discovery/refresh session reached the
// failed state (§4.D).
func (n *Notifier) SessionFailed(ctx context.Context, sessionID string, networkID int64, errs []string) {
	text := fmt.Sprintf(":x: Discovery session %s for network %d failed (%d errors)", sessionID, networkID, len(errs))
	n.post(ctx, "session_failed", text)
}

func (n *Notifier) post(ctx context.Context, kind, text string) {
	telemetry.NotificationsTotal.WithLabelValues(kind).Inc()
	if !n.IsEnabled() {
		n.logger.Debug("notifier disabled, skipping notification", "kind", kind, "text", text)
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting notification to slack", "kind", kind, "error", err)
	}
}
