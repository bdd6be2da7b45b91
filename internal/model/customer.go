package model

import (
	"strings"
	"time"
)

// Customer is identified uniquely per organization by normalized email.
// One row exists per (organization_id, email) pair: created on first
// reservation and updated, never duplicated, on subsequent ones.
//
// Fields:
//  ID             – primary key identifier.
//  OrganizationID – owning tenant.
//  Email          – normalized (trimmed, lower-cased) email address.
//  FirstName      – given name, updated on each reservation.
//  LastName       – family name, updated on each reservation.
//  Phone          – contact number, updated on each reservation.
type Customer struct {
	ID             uint64    // customers.id
	OrganizationID uint64    // customers.organization_id
	Email          string    // customers.email
	FirstName      string    // customers.first_name
	LastName       string    // customers.last_name
	Phone          string    // customers.phone
	CreatedAt      time.Time // customers.created_at
	UpdatedAt      time.Time // customers.updated_at
}

// NormalizeEmail trims surrounding whitespace and lower-cases an email
// address.  All customer lookups and the (organization, email) uniqueness
// constraint operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
