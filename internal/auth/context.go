package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// Roles recognized by the import surface.
const (
	RoleImport = "inventory:import"
	RoleAdmin  = "admin"
)

// Identity is the authenticated caller as resolved by the upstream auth
// collaborator.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Roles    []string
}

// Authenticated reports whether both the user and tenant are known.
func (i Identity) Authenticated() bool {
	return i.UserID != uuid.Nil && i.TenantID != uuid.Nil
}

// HasRole reports whether the identity holds role, case-insensitively.
func (i Identity) HasRole(role string) bool {
	for _, held := range i.Roles {
		if strings.EqualFold(strings.TrimSpace(held), role) {
			return true
		}
	}
	return false
}

// ContextWithIdentity returns a new context that carries the authenticated caller.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the authenticated caller from the context, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityKey).(Identity)
	if !ok || !identity.Authenticated() {
		return Identity{}, false
	}
	return identity, true
}

// EnforceTenantScope ensures the provided tenant matches the authenticated scope.
func EnforceTenantScope(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("tenantId is required")
	}
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return fmt.Errorf("request is not authenticated")
	}
	if identity.TenantID != tenantID {
		return fmt.Errorf("tenantId %s does not match authenticated scope", tenantID)
	}
	return nil
}

// Header names set by the trusted gateway in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRoles    = "X-User-Roles"
)

// GatewayHeaders resolves the identity forwarded by an authenticating
// gateway. Requests without valid headers pass through unauthenticated; the
// guard layer rejects them where authentication is required.
func GatewayHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, userErr := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		tenantID, tenantErr := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderTenantID)))
		if userErr != nil || tenantErr != nil {
			next.ServeHTTP(w, r)
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get(HeaderRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		identity := Identity{UserID: userID, TenantID: tenantID, Roles: roles}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}
