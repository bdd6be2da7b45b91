package model

import "time"

// Staff roles accepted in the JWT "role" claim.
const (
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

// StaffUser is a dive-shop employee account used to authenticate lifecycle
// mutations (status changes, payments).  Staff accounts belong to exactly
// one organization; their tokens carry the organization ID so a token
// issued for one shop can never act on another.
type StaffUser struct {
	ID             uint64    // staff_users.id
	OrganizationID uint64    // staff_users.organization_id
	Email          string    // staff_users.email (normalized, unique per org)
	PasswordHash   string    // staff_users.password_hash
	Role           string    // staff_users.role
	IsActive       bool      // staff_users.is_active
	CreatedAt      time.Time // staff_users.created_at
	UpdatedAt      time.Time // staff_users.updated_at
}
