// Package sweeper implements the Background Sweeper (§4.G): a single
// long-lived task that periodically requests a status test from one online
// agent per network that owns at least one device.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/google/uuid"
	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/internal/telemetry"
	"github.com/netreach/controlplane/pkg/agentregistry"
	"github.com/netreach/controlplane/pkg/dispatch"
	"github.com/netreach/controlplane/pkg/session"
)

// DefaultInterval is the sweep period (§4.G).
const DefaultInterval = 180 * time.Second

// devicePayload is the per-device shape carried in a status_test WorkItem
// (§4.G step 3).
type devicePayload struct {
	ID        int64       `json:"id"`
	IP        string      `json:"ip"`
	Name      string      `json:"name"`
	NetworkID int64       `json:"network_id"`
	CompanyID int64       `json:"company_id"`
	SNMP      interface{} `json:"snmp_config,omitempty"`
}

// Engine runs the 180-second sweep loop.
type Engine struct {
	q        *db.Queries
	agents   *agentregistry.Service
	dispatch *dispatch.Table
	sessions *session.Table
	logger   *slog.Logger
	interval time.Duration
}

func NewEngine(q *db.Queries, agents *agentregistry.Service, dispatchTable *dispatch.Table, sessionTable *session.Table, logger *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{q: q, agents: agents, dispatch: dispatchTable, sessions: sessionTable, logger: logger, interval: interval}
}

// Run blocks, ticking every e.interval until ctx is cancelled. A single
// network's failure is logged and isolated; it never stops the loop (§4.G
// error handling).
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("background sweeper started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("background sweeper stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	networkIDs, err := e.q.ListNetworksWithDevices(ctx)
	if err != nil {
		e.logger.Error("sweep: listing networks with devices", "error", err)
		telemetry.SweepNetworkErrorsTotal.Inc()
		return
	}

	online := 0
	for _, networkID := range networkIDs {
		if err := e.sweepNetwork(ctx, networkID); err != nil {
			e.logger.Error("sweep: network failed", "network_id", networkID, "error", err)
			telemetry.SweepNetworkErrorsTotal.Inc()
			continue
		}
		online++
	}
	telemetry.AgentsOnline.Set(float64(online))
}

func (e *Engine) sweepNetwork(ctx context.Context, networkID int64) error {
	agent, err := e.agents.SelectOnlineAgent(ctx, networkID, nil)
	if err != nil {
		// No capacity is an expected, non-error outcome for a quiet network.
		return nil
	}

	devices, err := e.q.ListDevicesByNetwork(ctx, networkID)
	if err != nil {
		return fmt.Errorf("listing devices for network %d: %w", networkID, err)
	}
	if len(devices) == 0 {
		return nil
	}

	payload := make([]devicePayload, 0, len(devices))
	for _, d := range devices {
		dp := devicePayload{ID: d.ID, IP: d.IP, Name: d.Name, NetworkID: d.NetworkID, CompanyID: d.CompanyID}
		if snmp, err := e.q.GetDeviceSNMPConfig(ctx, d.ID); err == nil {
			dp.SNMP = snmp
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("loading snmp config for device %d: %w", d.ID, err)
		}
		payload = append(payload, dp)
	}

	sessionID := backgroundSessionID()
	if _, err := e.sessions.Create(sessionID, networkID, []int64{agent.ID}, len(devices), session.SourceBackground); err != nil {
		return fmt.Errorf("creating background session for network %d: %w", networkID, err)
	}

	e.dispatch.Enqueue(agent.ID, dispatch.WorkItem{
		Type:      dispatch.TypeStatusTest,
		SessionID: sessionID,
		NetworkID: networkID,
		Source:    dispatch.SourceBackground,
		Payload:   payload,
	})
	return nil
}

// backgroundSessionID follows §4.G's "background_status_<uuid8>" convention,
// distinct from §4.D's "${source}_${uuid8}" session-id convention.
func backgroundSessionID() string {
	compact := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "background_status_" + compact[:8]
}

// Metrics exposes the Prometheus collectors this package contributes, for
// callers assembling the full registry.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{telemetry.SweepDuration, telemetry.SweepNetworkErrorsTotal, telemetry.AgentsOnline}
}
