package agentregistry

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/audit"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/permission"
)

// IdentityFunc resolves the caller identity for permission checks.
type IdentityFunc func(r *http.Request) (permission.Identity, bool)

// Handler serves the user-authenticated agent CRUD endpoints of §6.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   *audit.Writer
	actor   IdentityFunc
}

func NewHandler(logger *slog.Logger, service *Service, auditWriter *audit.Writer, actor IdentityFunc) *Handler {
	return &Handler{logger: logger, service: service, audit: auditWriter, actor: actor}
}

// Routes mounts under /agents.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Get("/all", h.handleListAll)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpserver.RespondAPIErr(w, h.logger, apierr.AuthFailure("missing authentication"))
		return
	}

	var req RegisterRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agent, raw, err := h.service.Register(r.Context(), actor, req)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"agent": agent,
		"token": raw,
	})
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpserver.RespondAPIErr(w, h.logger, apierr.AuthFailure("missing authentication"))
		return
	}

	agents, err := h.service.List(r.Context(), actor.CompanyID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (h *Handler) parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apierr.Validation("invalid agent id")
	}
	return id, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := h.parseID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	agent, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, agent)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := h.parseID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var body struct {
		Name         string   `json:"name" validate:"required"`
		Capabilities []string `json:"capabilities"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	agent, err := h.service.Update(r.Context(), id, body.Name, body.Capabilities)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, agent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := h.parseID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// AvailableAgentsHandler serves GET /network/{id}/available-agents,
// reporting the agent the dispatch path would select for that network
// without actually dispatching anything.
func (h *Handler) AvailableAgentsHandler(w http.ResponseWriter, r *http.Request) {
	networkID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, apierr.Validation("invalid network id"))
		return
	}

	agent, err := h.service.SelectOnlineAgent(r.Context(), networkID, nil)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindNoCapacity {
			httpserver.Respond(w, http.StatusOK, map[string]any{"agents": []AgentSummary{}})
			return
		}
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"agents": []AgentSummary{agent}})
}
