package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/permission"
)

// UserMiddleware authenticates the caller via a Bearer session JWT, falling
// back to the X-Dev-Role/X-Dev-User-ID/X-Dev-Company-ID headers when
// devMode is true (no real authentication, local/dev use only — mirrors
// the teacher's X-Tenant-Slug dev fallback). It is mounted on the
// user-facing realm of §6 (agent registration/token management, discovery
// dispatch, cancel/retry).
func UserMiddleware(sessionMgr *SessionManager, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

				identity, err := sessionMgr.ValidateToken(raw)
				if err != nil {
					httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("invalid or expired session token"))
					return
				}

				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
				return
			}

			if devMode {
				if role := r.Header.Get("X-Dev-Role"); role != "" {
					identity := permission.Identity{Role: permission.Role(role)}
					if uid, err := strconv.ParseInt(r.Header.Get("X-Dev-User-ID"), 10, 64); err == nil {
						identity.UserID = uid
					}
					if cid, err := strconv.ParseInt(r.Header.Get("X-Dev-Company-ID"), 10, 64); err == nil {
						identity.CompanyID = cid
					}
					next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
					return
				}
			}

			httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("missing bearer session token"))
		})
	}
}

// AgentMiddleware authenticates the caller via the X-Agent-Token header
// (§4.A's bearer-token model) and stores the resulting AgentPrincipal in the
// request context. It is mounted on the agent-facing realm of §6
// (heartbeat, ping/pong, status, work polling, progress submission).
func AgentMiddleware(store *agenttoken.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Agent-Token")
			if raw == "" {
				httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("missing agent token"))
				return
			}

			clientIP := r.Header.Get("X-Forwarded-For")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			agent, err := store.Authenticate(r.Context(), raw, &clientIP)
			if err != nil {
				if logger != nil {
					logger.Warn("agent authentication failed", "error", err)
				}
				httpserver.RespondAPIErr(w, logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewAgentContext(r.Context(), agent)))
		})
	}
}
