// Package permission models the external collaborator named in §1 and §6:
// user/role authentication and permission policy. The core never embeds
// real authz rules beyond the boolean capability checks this package
// exposes; a production deployment would delegate Oracle to whatever
// system of record owns company/organization membership and roles.
package permission

import (
	"context"

	"github.com/netreach/controlplane/internal/apierr"
)

// Role is one of the closed set of roles §6 names.
type Role string

const (
	RoleSuperadmin   Role = "superadmin"
	RoleCompanyAdmin Role = "company_admin"
	RoleFullControl  Role = "full_control"
	RoleEngineer     Role = "engineer"
	RoleViewer       Role = "viewer"
)

// Identity is the resolved caller the oracle reasons about. It is built by
// the transport layer from whatever session/credential mechanism
// authenticated the request (internal/auth, here).
type Identity struct {
	UserID    int64
	Role      Role
	CompanyID int64
}

// Oracle answers the boolean capability questions the core needs before
// mutating agent/token/dispatch state. See §4.B's registration invariant
// and §1's "permission policy... consumed as a boolean capability oracle".
type Oracle interface {
	// CanRegisterAgent reports whether actor may register a new agent
	// under targetCompanyID.
	CanRegisterAgent(ctx context.Context, actor Identity, targetCompanyID int64) error
	// CanManageToken reports whether actor may rotate/revoke/activate/
	// extend a token belonging to an agent under agentCompanyID.
	CanManageToken(ctx context.Context, actor Identity, agentCompanyID int64) error
	// CanDispatchDiscovery reports whether actor may trigger discovery,
	// refresh, or cancellation for companyID's resources.
	CanDispatchDiscovery(ctx context.Context, actor Identity, companyID int64) error
}

// FromIdentity is the reference Oracle: company_admin, full_control, and
// superadmin may register agents and manage tokens within their own
// company; superadmin acts across companies. Any authenticated role but
// viewer may dispatch discovery within its own company.
type FromIdentity struct{}

func (FromIdentity) CanRegisterAgent(_ context.Context, actor Identity, targetCompanyID int64) error {
	switch actor.Role {
	case RoleCompanyAdmin, RoleFullControl, RoleSuperadmin:
	default:
		return apierr.PermissionDenied("only company_admin or full_control may register an agent")
	}
	if actor.Role != RoleSuperadmin && actor.CompanyID != targetCompanyID {
		return apierr.PermissionDenied("cannot register an agent for another company")
	}
	return nil
}

func (FromIdentity) CanManageToken(_ context.Context, actor Identity, agentCompanyID int64) error {
	switch actor.Role {
	case RoleCompanyAdmin, RoleFullControl, RoleSuperadmin:
	default:
		return apierr.PermissionDenied("only company_admin or full_control may manage agent tokens")
	}
	if actor.Role != RoleSuperadmin && actor.CompanyID != agentCompanyID {
		return apierr.PermissionDenied("cannot manage a token belonging to another company")
	}
	return nil
}

func (FromIdentity) CanDispatchDiscovery(_ context.Context, actor Identity, companyID int64) error {
	if actor.Role == RoleViewer {
		return apierr.PermissionDenied("viewers cannot dispatch discovery")
	}
	if actor.Role != RoleSuperadmin && actor.CompanyID != companyID {
		return apierr.PermissionDenied("cannot dispatch discovery for another company")
	}
	return nil
}
