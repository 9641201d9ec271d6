package heartbeat

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/agenttoken"
)

// AgentIdentityFunc resolves the authenticated agent principal from the
// request context; supplied by the agent-authentication middleware.
type AgentIdentityFunc func(r *http.Request) (agenttoken.AgentPrincipal, bool)

// Handler serves the agent-authenticated endpoints of §6: organizations,
// networks, heartbeat, ping/pong, status, and work polling.
type Handler struct {
	logger  *slog.Logger
	service *Service
	actor   AgentIdentityFunc
}

func NewHandler(logger *slog.Logger, service *Service, actor AgentIdentityFunc) *Handler {
	return &Handler{logger: logger, service: service, actor: actor}
}

// Routes mounts under the agent-authenticated realm.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/agent/organizations", h.handleOrganizations)
	r.Get("/agent/networks", h.handleNetworks)
	r.Post("/heartbeat", h.handleHeartbeat)
	r.Post("/pong", h.handlePong)
	r.Post("/agent/ping", h.handlePing)
	r.Put("/status", h.handleStatus)
	r.Get("/agent/work", h.handleWork)
	return r
}

func (h *Handler) identity(r *http.Request) (agenttoken.AgentPrincipal, error) {
	agent, ok := h.actor(r)
	if !ok {
		return agenttoken.AgentPrincipal{}, apierr.AuthFailure("missing or invalid agent token")
	}
	return agent, nil
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var body HeartbeatRequest
	_ = httpserver.Decode(r, &body)

	ip := clientIP(r)
	updated, err := h.service.Heartbeat(r.Context(), agent, body, &ip)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "ok", "last_heartbeat": updated.LastHeartbeat})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	if err := h.service.Ping(r.Context(), agent); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePong(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	if err := h.service.Pong(r.Context(), agent); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var body struct {
		Status string `json:"status" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	updated, err := h.service.UpdateStatus(r.Context(), agent, body.Status)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"declared_status": updated.DeclaredStatus})
}

func (h *Handler) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	orgs, err := h.service.Organizations(r.Context(), agent)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (h *Handler) handleNetworks(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	networks, err := h.service.Networks(r.Context(), agent)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"networks": networks})
}

func (h *Handler) handleWork(w http.ResponseWriter, r *http.Request) {
	agent, err := h.identity(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	item, ok := h.service.Poll(agent)
	if !ok {
		httpserver.Respond(w, http.StatusOK, map[string]any{"work": nil})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"work": item})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
