package agenttoken

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/permission"
)

// IdentityFunc resolves the caller identity for permission checks from the
// request context; supplied by the transport layer (internal/auth).
type IdentityFunc func(r *http.Request) (permission.Identity, bool)

// Handler serves the user-authenticated token-management endpoints of §6:
// rotate_token, revoke_token, activate_token, extend_token, token_info,
// audit_logs.
type Handler struct {
	logger  *slog.Logger
	store   *Store
	oracle  permission.Oracle
	actor   IdentityFunc
}

func NewHandler(logger *slog.Logger, store *Store, oracle permission.Oracle, actor IdentityFunc) *Handler {
	return &Handler{logger: logger, store: store, oracle: oracle, actor: actor}
}

// Routes mounts under /agents/{id}.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/rotate_token", h.handleRotate)
	r.Post("/revoke_token", h.handleRevoke)
	r.Post("/activate_token", h.handleActivate)
	r.Post("/extend_token", h.handleExtend)
	r.Get("/token_info", h.handleTokenInfo)
	r.Get("/audit_logs", h.handleAuditLogs)
	return r
}

func (h *Handler) agentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apierr.Validation("invalid agent id")
	}
	return id, nil
}

func (h *Handler) authorize(r *http.Request, agentID int64) (permission.Identity, error) {
	actor, ok := h.actor(r)
	if !ok {
		return permission.Identity{}, apierr.AuthFailure("missing authentication")
	}
	agent, err := h.store.q.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return permission.Identity{}, apierr.NotFound("agent not found")
		}
		return permission.Identity{}, apierr.Internal("loading agent", err)
	}
	if err := h.oracle.CanManageToken(r.Context(), actor, agent.CompanyID); err != nil {
		return permission.Identity{}, err
	}
	return actor, nil
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	actor, err := h.authorize(r, agentID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	raw, err := h.store.Rotate(r.Context(), agentID, &actor.UserID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"token": raw})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	actor, err := h.authorize(r, agentID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = httpserver.Decode(r, &body)

	if err := h.store.Revoke(r.Context(), agentID, &actor.UserID, body.Reason); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	actor, err := h.authorize(r, agentID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	if err := h.store.Activate(r.Context(), agentID, &actor.UserID); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	actor, err := h.authorize(r, agentID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	var body struct {
		Days int `json:"days" validate:"required,min=1"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	newExpiry, err := h.store.Extend(r.Context(), agentID, body.Days, &actor.UserID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"expires_at": newExpiry})
}

func (h *Handler) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	if _, err := h.authorize(r, agentID); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	info, err := h.store.Info(r.Context(), agentID)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	agentID, err := h.agentID(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	if _, err := h.authorize(r, agentID); err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, apierr.Validation(err.Error()))
		return
	}

	entries, err := h.store.AuditLogs(r.Context(), agentID, int32(params.PageSize), int32(params.Offset))
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"entries": entries})
}
