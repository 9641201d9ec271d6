package discovery

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/permission"
)

// IdentityFunc resolves the user identity for permission checks.
type IdentityFunc func(r *http.Request) (permission.Identity, bool)

// AgentIdentityFunc resolves the authenticated agent principal.
type AgentIdentityFunc func(r *http.Request) (agenttoken.AgentPrincipal, bool)

// Handler serves both the user-facing dispatch/status/cancel/retry endpoints
// and the agent-facing progress-submit endpoint of §6.
type Handler struct {
	logger  *slog.Logger
	service *Service
	actor   IdentityFunc
	agent   AgentIdentityFunc
}

func NewHandler(logger *slog.Logger, service *Service, actor IdentityFunc, agent AgentIdentityFunc) *Handler {
	return &Handler{logger: logger, service: service, actor: actor, agent: agent}
}

// Routes mounts the user-authenticated realm (/discovery, /devices/{id}/refresh).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/discovery", h.handleDispatch)
	r.Get("/discovery/{id}/status", h.handleStatus)
	r.Post("/discovery/{id}/cancel", h.handleCancel)
	r.Post("/discovery/{id}/retry", h.handleRetry)
	r.Post("/devices/{id}/refresh", h.handleRefreshDevice)
	return r
}

// AgentRoutes mounts the agent-authenticated progress-submit endpoint.
func (h *Handler) AgentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/discovery/{session_id}/progress", h.handleProgress)
	return r
}

func (h *Handler) userIdentity(r *http.Request) (permission.Identity, error) {
	actor, ok := h.actor(r)
	if !ok {
		return permission.Identity{}, apierr.AuthFailure("missing authentication")
	}
	return actor, nil
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	actor, err := h.userIdentity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var req DispatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sess, err := h.service.Dispatch(r.Context(), actor, req)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, sess)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.userIdentity(r); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	sess, err := h.service.Status(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, sess)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, err := h.userIdentity(r); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	sess, err := h.service.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, sess)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	if _, err := h.userIdentity(r); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	sess, err := h.service.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, sess)
}

func (h *Handler) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	actor, err := h.userIdentity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	deviceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, apierr.Validation("invalid device id"))
		return
	}

	var req RefreshDeviceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sess, err := h.service.RefreshDevice(r.Context(), actor, deviceID, req)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, sess)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agent(r)
	if !ok {
		httpserver.RespondAPIErr(w, h.logger, apierr.AuthFailure("missing or invalid agent token"))
		return
	}

	var report ProgressReport
	if !httpserver.DecodeAndValidate(w, r, &report) {
		return
	}

	sess, err := h.service.SubmitProgress(r.Context(), agent, chi.URLParam(r, "session_id"), report)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, sess)
}
