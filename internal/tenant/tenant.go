// Package tenant establishes the isolation boundary every storage
// operation runs inside.  A Scope binds work to exactly one organization;
// the store refuses to issue any statement without one.  Scopes are
// request-scoped values, never shared across concurrent logical
// operations, so a binding can never leak through a pooled connection.
package tenant

import "errors"

// ErrTenantUnresolved is returned when an operation is attempted without a
// valid organization binding.  It is fatal for the request; retrying
// without fixing the tenant resolution cannot succeed.
var ErrTenantUnresolved = errors.New("tenant unresolved")

// Scope is the tenant binding passed to every storage call.  The zero
// Scope is invalid and fails closed.
type Scope struct {
	OrganizationID uint64
}

// Resolve validates an organization identifier and returns the Scope that
// binds subsequent storage operations to it.  A zero identifier yields
// ErrTenantUnresolved before any storage access happens.
func Resolve(organizationID uint64) (Scope, error) {
	if organizationID == 0 {
		return Scope{}, ErrTenantUnresolved
	}
	return Scope{OrganizationID: organizationID}, nil
}

// Valid reports whether the scope carries a usable organization binding.
func (s Scope) Valid() bool { return s.OrganizationID != 0 }
