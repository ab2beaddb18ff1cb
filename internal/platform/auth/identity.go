package auth

import "context"

// RoleAdmin is the role name that satisfies RequireAdmin.
const RoleAdmin = "admin"

// Identity is the authenticated caller as established by the identity
// service. It is stored by value in the request context and never mutated.
type Identity struct {
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	RoleName    string        `json:"role_name"`
	Permissions PermissionSet `json:"permissions"`
}

// Can reports whether the identity holds the permission key.
func (i Identity) Can(key string) bool {
	return Satisfies(i.Permissions, key)
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.RoleName == RoleAdmin
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by Authenticate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user id, or 0 when unauthenticated.
func UserIDFromContext(ctx context.Context) int64 {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}
