// Package authz decides whether a caller may mutate an owned resource. The
// decision depends only on the caller's identity and roles and the
// resource's recorded owner id; it never inspects resource-specific fields,
// so the same rule applies to observations, confirmations, and any future
// owned type.
package authz

import "fieldscope/pkg/domain"

// Decision is the outcome of an ownership check.
type Decision int

const (
	Allow Decision = iota
	// DenyUnauthenticated maps to 401: the caller presented no identity.
	DenyUnauthenticated
	// DenyForbidden maps to 403: authenticated but not entitled.
	DenyForbidden
)

// Caller is the authenticated (or anonymous) identity behind a request.
type Caller struct {
	ID    string
	Roles []domain.UserRole
}

// Anonymous reports whether no identity was established.
func (c Caller) Anonymous() bool {
	return c.ID == ""
}

// CallerFromUser builds a Caller from an authenticated user.
func CallerFromUser(u domain.User) Caller {
	return Caller{ID: u.ID, Roles: []domain.UserRole{u.Role}}
}

// OverrideRoles is the default set that bypasses ownership entirely.
var OverrideRoles = []domain.UserRole{domain.RoleModerator, domain.RoleAdmin}

// Decide applies the ownership policy: allow when the caller owns the
// resource or holds an override role. An empty ownerID (legacy/system rows)
// can only be satisfied by an override role.
func Decide(caller Caller, ownerID string, overrideRoles []domain.UserRole) Decision {
	if caller.Anonymous() {
		return DenyUnauthenticated
	}
	if ownerID != "" && caller.ID == ownerID {
		return Allow
	}
	for _, have := range caller.Roles {
		for _, override := range overrideRoles {
			if have == override {
				return Allow
			}
		}
	}
	return DenyForbidden
}
