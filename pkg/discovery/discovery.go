// Package discovery orchestrates the user-initiated and agent-facing
// discovery/refresh data flow described in §2: dispatch onto the Dispatch
// Table, progress tracking via the Session Tracker, and result reconciliation
// into the inventory, tying §4.B, §4.C, §4.D, and §4.E together.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/pkg/agentregistry"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/dispatch"
	"github.com/netreach/controlplane/pkg/notify"
	"github.com/netreach/controlplane/pkg/permission"
	"github.com/netreach/controlplane/pkg/reconcile"
	"github.com/netreach/controlplane/pkg/session"
)

// Service wires the Agent Registry, Dispatch Table, Session Tracker, and
// Result Reconciler together for the discovery/refresh endpoints.
type Service struct {
	q         *db.Queries
	agents    *agentregistry.Service
	dispatch  *dispatch.Table
	sessions  *session.Table
	reconcile *reconcile.Service
	oracle    permission.Oracle
	notifier  *notify.Notifier
}

func NewService(q *db.Queries, agents *agentregistry.Service, dispatchTable *dispatch.Table, sessions *session.Table, reconcileSvc *reconcile.Service, oracle permission.Oracle, notifier *notify.Notifier) *Service {
	return &Service{
		q: q, agents: agents, dispatch: dispatchTable, sessions: sessions,
		reconcile: reconcileSvc, oracle: oracle, notifier: notifier,
	}
}

func (s *Service) companyIDForNetwork(ctx context.Context, networkID int64) (int64, error) {
	net, err := s.q.GetNetwork(ctx, networkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apierr.Validation("network does not exist")
		}
		return 0, apierr.Internal("loading network", err)
	}
	org, err := s.q.GetOrganization(ctx, net.OrganizationID)
	if err != nil {
		return 0, apierr.Internal("loading organization", err)
	}
	return org.CompanyID, nil
}

// DispatchRequest is the body of POST /discovery (§6).
type DispatchRequest struct {
	NetworkID int64   `json:"network_id" validate:"required"`
	IPRange   string  `json:"ip_range" validate:"required"`
	AgentIDs  []int64 `json:"agent_ids,omitempty"`
}

// Dispatch implements the user-initiated half of §2's discovery flow:
// validate -> select an online agent -> create a Session -> enqueue a
// discovery WorkItem.
func (s *Service) Dispatch(ctx context.Context, actor permission.Identity, req DispatchRequest) (session.Session, error) {
	companyID, err := s.companyIDForNetwork(ctx, req.NetworkID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.oracle.CanDispatchDiscovery(ctx, actor, companyID); err != nil {
		return session.Session{}, err
	}

	ips, err := ParseIPRange(req.IPRange)
	if err != nil {
		return session.Session{}, err
	}

	agent, err := s.agents.SelectOnlineAgent(ctx, req.NetworkID, req.AgentIDs)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindNoCapacity {
			s.notifier.NoCapacity(ctx, req.NetworkID, fmt.Sprintf("user:%d", actor.UserID))
		}
		return session.Session{}, err
	}

	sessionID := session.NewID(session.SourceUser)
	sess, err := s.sessions.Create(sessionID, req.NetworkID, []int64{agent.ID}, len(ips), session.SourceUser)
	if err != nil {
		return session.Session{}, err
	}

	s.dispatch.Enqueue(agent.ID, dispatch.WorkItem{
		Type:      dispatch.TypeDiscovery,
		SessionID: sessionID,
		NetworkID: req.NetworkID,
		Source:    dispatch.SourceUser,
		Payload:   map[string]any{"ip_range": req.IPRange, "ips": ips},
	})
	return sess, nil
}

// Status returns the current state of a session (GET /discovery/{id}/status).
func (s *Service) Status(sessionID string) (session.Session, error) {
	return s.sessions.Get(sessionID)
}

// Cancel transitions a session to cancelled and drops any outstanding
// dispatch item for its assigned agents.
func (s *Service) Cancel(sessionID string) (session.Session, error) {
	sess, err := s.sessions.Cancel(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	for _, agentID := range sess.AgentIDs {
		s.dispatch.Cancel(agentID)
	}
	return sess, nil
}

// Retry resumes a failed or cancelled session; a fresh discovery WorkItem is
// re-enqueued to the same agent set so the agent has something to pull.
func (s *Service) Retry(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := s.sessions.Retry(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	for _, agentID := range sess.AgentIDs {
		s.dispatch.Enqueue(agentID, dispatch.WorkItem{
			Type:      dispatch.TypeDiscovery,
			SessionID: sess.ID,
			NetworkID: sess.NetworkID,
			Source:    dispatch.SourceUser,
		})
	}
	return sess, nil
}

// ProgressReport is the body an agent POSTs to /discovery/{session_id}/progress.
type ProgressReport struct {
	AgentID      int64               `json:"agent_id"`
	ProcessedIPs int                 `json:"processed_ips"`
	Devices      []reconcile.Report  `json:"devices"`
	Errors       []string            `json:"errors"`
	AgentStatus  string              `json:"agent_status" validate:"required,oneof=running completed failed"`
}

// reconcileMethodForSource maps the session's originating flow to the
// discovery_method recorded on reconciled devices (§4.E's upgrade policy).
func reconcileMethodForSource(source string) string {
	if source == session.SourceRefresh {
		return reconcile.MethodRefresh
	}
	return reconcile.MethodAuto
}

// SubmitProgress reconciles any reported devices into the inventory, then
// updates the session's progress (§4.D/§4.E combined, §2's data flow).
// A terminal session after this update has its dispatch item acknowledged,
// since discovery items are read-but-retained until explicit cleanup.
func (s *Service) SubmitProgress(ctx context.Context, agent agenttoken.AgentPrincipal, sessionID string, report ProgressReport) (session.Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return session.Session{}, err
	}

	outcomes := s.reconcile.ReconcileBatch(ctx, sess.NetworkID, agent.CompanyID, 0, reconcileMethodForSource(sess.Source), report.Devices)

	devices := make([]session.DiscoveredDevice, 0, len(outcomes))
	errs := append([]string{}, report.Errors...)
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", o.IP, o.Err.Error()))
			continue
		}
		devices = append(devices, session.DiscoveredDevice{IP: o.Device.IP, Name: o.Device.Name})
	}

	updated, err := s.sessions.UpdateProgress(sessionID, agent.AgentID, report.ProcessedIPs, devices, errs, report.AgentStatus)
	if err != nil {
		return session.Session{}, err
	}

	if updated.Status == session.StatusCompleted || updated.Status == session.StatusFailed || updated.Status == session.StatusCancelled {
		s.dispatch.Acknowledge(agent.AgentID, sessionID)
	}
	if updated.Status == session.StatusFailed {
		s.notifier.SessionFailed(ctx, sessionID, updated.NetworkID, updated.Errors)
	}
	return updated, nil
}

// RefreshDeviceRequest is the body of POST /devices/{id}/refresh.
type RefreshDeviceRequest struct {
	Credentials []byte `json:"credentials,omitempty"`
}

// RefreshDevice triggers a single-device re-discovery: one device, carried
// as a topology_refresh WorkItem to whichever online agent is bound to the
// device's network. Credentials are never read from storage or substituted
// from another device; the caller must supply them on every refresh (§9).
func (s *Service) RefreshDevice(ctx context.Context, actor permission.Identity, deviceID int64, req RefreshDeviceRequest) (session.Session, error) {
	device, err := s.q.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, apierr.NotFound("device not found")
		}
		return session.Session{}, apierr.Internal("loading device", err)
	}

	companyID, err := s.companyIDForNetwork(ctx, device.NetworkID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.oracle.CanDispatchDiscovery(ctx, actor, companyID); err != nil {
		return session.Session{}, err
	}

	agent, err := s.agents.SelectOnlineAgent(ctx, device.NetworkID, nil)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindNoCapacity {
			s.notifier.NoCapacity(ctx, device.NetworkID, fmt.Sprintf("user:%d", actor.UserID))
		}
		return session.Session{}, err
	}

	sessionID := session.NewID(session.SourceRefresh)
	sess, err := s.sessions.Create(sessionID, device.NetworkID, []int64{agent.ID}, 1, session.SourceRefresh)
	if err != nil {
		return session.Session{}, err
	}

	s.dispatch.Enqueue(agent.ID, dispatch.WorkItem{
		Type:      dispatch.TypeTopologyRefresh,
		SessionID: sessionID,
		NetworkID: device.NetworkID,
		Source:    dispatch.SourceRefresh,
		Payload:   map[string]any{"device_id": device.ID, "ip": device.IP, "credentials": req.Credentials},
	})
	return sess, nil
}
