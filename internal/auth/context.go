package auth

import (
	"context"

	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/permission"
)

type ctxKey string

const (
	identityKey ctxKey = "user_identity"
	agentKey    ctxKey = "agent_principal"
)

// NewContext stores the authenticated user identity in the context.
func NewContext(ctx context.Context, id permission.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the user identity set by Middleware. The second
// return value is false when no user session authenticated the request.
func FromContext(ctx context.Context) (permission.Identity, bool) {
	id, ok := ctx.Value(identityKey).(permission.Identity)
	return id, ok
}

// NewAgentContext stores the authenticated agent principal in the context.
func NewAgentContext(ctx context.Context, agent agenttoken.AgentPrincipal) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// AgentFromContext extracts the agent principal set by AgentMiddleware.
func AgentFromContext(ctx context.Context) (agenttoken.AgentPrincipal, bool) {
	agent, ok := ctx.Value(agentKey).(agenttoken.AgentPrincipal)
	return agent, ok
}
