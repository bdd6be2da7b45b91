package model

import "time"

// Organization is the tenant root.  Every other entity carries its ID and
// all storage access is filtered by it; no cross-organization relationship
// is ever permitted.
//
// Fields:
//  ID        – primary key identifier.
//  Slug      – URL-safe identifier used by the booking widget and staff UI
//              to address the organization (unique).
//  Name      – display name of the dive shop.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Organization struct {
	ID        uint64    // organizations.id
	Slug      string    // organizations.slug
	Name      string    // organizations.name
	CreatedAt time.Time // organizations.created_at
	UpdatedAt time.Time // organizations.updated_at
}
