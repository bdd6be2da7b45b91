package repository

import (
	"context"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// Store is the tenant-scoped storage contract consumed by the service
// layer.  Every method except GetOrganizationBySlug takes a tenant.Scope
// and fails closed with tenant.ErrTenantUnresolved when the scope is
// invalid; the implementations apply the organization filter at the
// storage layer so no query path can omit it.
type Store interface {
	// GetOrganizationBySlug looks an organization up by its URL slug.
	// This is the tenant-resolution step itself and is the only
	// unscoped read.
	GetOrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error)

	// GetInstance returns an activity instance with its template fields
	// joined, without acquiring any lock.  Suitable for quoting
	// availability; admission must re-read under WithinTx.
	GetInstance(ctx context.Context, scope tenant.Scope, instanceID uint64) (*model.ActivityInstance, error)

	// CountCommitted sums participants over reservations on the instance
	// whose status consumes capacity.
	CountCommitted(ctx context.Context, scope tenant.Scope, instanceID uint64) (uint32, error)

	// GetReservationByNumber fetches a reservation by its human-facing
	// number within the organization.
	GetReservationByNumber(ctx context.Context, scope tenant.Scope, number string) (*model.Reservation, error)

	// CreateStaffUser inserts a staff account; ErrDuplicate when the
	// email is already registered in the organization.
	CreateStaffUser(ctx context.Context, scope tenant.Scope, u *model.StaffUser) error

	// GetStaffUserByEmail fetches a staff account by normalized email.
	GetStaffUserByEmail(ctx context.Context, scope tenant.Scope, email string) (*model.StaffUser, error)

	// WithinTx runs fn inside a transaction bound to the scope.  Any
	// error from fn rolls the whole transaction back; no partial state
	// is observable afterwards.
	WithinTx(ctx context.Context, scope tenant.Scope, fn func(tx Tx) error) error
}

// Tx is the transactional surface available inside WithinTx.  All methods
// inherit the organization scope the transaction was opened with.
type Tx interface {
	// LockInstance acquires an exclusive lock on the single activity
	// instance row and returns it with template fields joined.  This is
	// the sole serialization point for admissions and capacity-releasing
	// lifecycle mutations on that instance; other instances are not
	// blocked.  Returns ErrNotFound for unknown or foreign-organization
	// instances and ErrBusy when the lock wait exceeds its bound.
	LockInstance(ctx context.Context, instanceID uint64) (*model.ActivityInstance, error)

	// CountCommitted is the in-lock recomputation of committed
	// participants; values read before LockInstance must be discarded.
	CountCommitted(ctx context.Context, instanceID uint64) (uint32, error)

	// FindCustomerByEmail fetches a customer by normalized email, or
	// ErrNotFound.
	FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)

	// InsertCustomer inserts a customer row, populating its ID.
	// ErrDuplicate signals another transaction created the same
	// (organization, email) pair first.
	InsertCustomer(ctx context.Context, c *model.Customer) error

	// UpdateCustomerProfile updates mutable profile fields (names,
	// phone) of an existing customer.  The email is never changed.
	UpdateCustomerProfile(ctx context.Context, c *model.Customer) error

	// InsertReservation inserts a reservation row, populating its ID.
	// ErrDuplicate signals a reservation-number collision.
	InsertReservation(ctx context.Context, r *model.Reservation) error

	// GetReservationByNumber fetches a reservation by number, acquiring
	// an exclusive lock on its row.  Concurrent lifecycle mutations on
	// the same reservation serialize here, so the returned state is the
	// latest committed one, not a stale snapshot.  Returns ErrBusy when
	// the lock wait exceeds its bound.
	GetReservationByNumber(ctx context.Context, number string) (*model.Reservation, error)

	// UpdateReservation persists status, payment and amount fields of an
	// existing reservation.
	UpdateReservation(ctx context.Context, r *model.Reservation) error
}
