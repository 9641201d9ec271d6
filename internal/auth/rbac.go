package auth

import (
	"net/http"

	"github.com/netreach/controlplane/internal/apierr"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/pkg/permission"
)

// roleLevel maps roles to a numeric privilege level for hierarchical checks.
var roleLevel = map[permission.Role]int{
	permission.RoleSuperadmin:   40,
	permission.RoleCompanyAdmin: 30,
	permission.RoleFullControl:  25,
	permission.RoleEngineer:     20,
	permission.RoleViewer:       10,
}

// RequireAuth rejects requests that have no authenticated user identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole returns middleware that rejects requests whose identity does
// not hold one of the listed roles, checked by exact match.
func RequireRole(allowed ...permission.Role) func(http.Handler) http.Handler {
	set := make(map[permission.Role]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("authentication required"))
				return
			}
			if _, ok := set[id.Role]; !ok {
				httpserver.RespondAPIErr(w, nil, apierr.PermissionDenied("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMinRole returns middleware that rejects requests whose identity has
// a lower privilege level than the given minimum role. This allows
// hierarchical checks: RequireMinRole(RoleCompanyAdmin) permits superadmin
// and company_admin.
func RequireMinRole(minRole permission.Role) func(http.Handler) http.Handler {
	minLevel := roleLevel[minRole]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpserver.RespondAPIErr(w, nil, apierr.AuthFailure("authentication required"))
				return
			}
			if roleLevel[id.Role] < minLevel {
				httpserver.RespondAPIErr(w, nil, apierr.PermissionDenied("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
