package shared

import "context"

// Identity carries the authenticated tenant and actor for a request. The
// suite's auth layer is an external collaborator; this core trusts the
// values it is handed and scopes every query by TenantID.
type Identity struct {
	TenantID int64
	ActorID  int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. The zero Identity
// is returned when none was set.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
