package model

import "time"

// Reservation kinds.  A BOOKING claims participant slots on a trip; an
// ENROLLMENT claims exactly one seat in a training session.
const (
	KindBooking    = "BOOKING"
	KindEnrollment = "ENROLLMENT"
)

// Booking statuses.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCheckedIn = "CHECKED_IN"
	StatusCompleted = "COMPLETED"
	StatusCanceled  = "CANCELED"
	StatusNoShow    = "NO_SHOW"
)

// Enrollment statuses.  COMPLETED is shared with the booking vocabulary.
const (
	StatusEnrolled   = "ENROLLED"
	StatusInProgress = "IN_PROGRESS"
	StatusDropped    = "DROPPED"
	StatusFailed     = "FAILED"
)

// Payment sub-states, orthogonal to the reservation status.
const (
	PaymentPending  = "PENDING"
	PaymentPartial  = "PARTIAL"
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
)

// Reservation is a customer's claim on participant slots in an activity
// instance: a trip booking or a training enrollment.  Reservations are
// never deleted; cancellation is a status transition so historical
// capacity accounting stays auditable.
//
// Fields:
//  ID             – primary key identifier.
//  OrganizationID – owning tenant; always equals the instance's and
//                   customer's organization.
//  InstanceID     – activity instance being reserved.
//  CustomerID     – customer making the reservation.
//  Number         – human-facing reservation number, unique per
//                   organization (RSV-/ENR- prefix).
//  Kind           – BOOKING or ENROLLMENT.
//  Participants   – participant count; always 1 for enrollments.
//  Status         – reservation status (see vocabularies above).
//  SubtotalCents  – price before discount and tax.
//  DiscountCents  – discount applied.
//  TaxCents       – tax applied.
//  TotalCents     – amount owed.
//  PaidCents      – cumulative recorded payments.
//  PaymentStatus  – derived payment sub-state.
type Reservation struct {
	ID             uint64    // reservations.id
	OrganizationID uint64    // reservations.organization_id
	InstanceID     uint64    // reservations.instance_id
	CustomerID     uint64    // reservations.customer_id
	Number         string    // reservations.number
	Kind           string    // reservations.kind
	Participants   uint32    // reservations.participants
	Status         string    // reservations.status
	SubtotalCents  uint32    // reservations.subtotal_cents
	DiscountCents  uint32    // reservations.discount_cents
	TaxCents       uint32    // reservations.tax_cents
	TotalCents     uint32    // reservations.total_cents
	PaidCents      uint32    // reservations.paid_cents
	PaymentStatus  string    // reservations.payment_status
	CreatedAt      time.Time // reservations.created_at
	UpdatedAt      time.Time // reservations.updated_at
}

// uncountedStatuses are the reservation statuses that release capacity.
// Everything else consumes seats on the instance.
var uncountedStatuses = map[string]bool{
	StatusCanceled: true,
	StatusNoShow:   true,
	StatusDropped:  true,
	StatusFailed:   true,
}

// Counted reports whether a reservation in the given status consumes
// instance capacity.
func Counted(status string) bool { return !uncountedStatuses[status] }

// UncountedStatuses returns the capacity-releasing statuses, for use in
// SQL NOT IN clauses.  The returned slice must not be mutated.
func UncountedStatuses() []string {
	return []string{StatusCanceled, StatusNoShow, StatusDropped, StatusFailed}
}

// bookingTransitions and enrollmentTransitions define the legal edges of
// the two status machines.  CANCELED and NO_SHOW (respectively DROPPED
// and FAILED) are reachable from any non-terminal state and are terminal
// themselves, as is COMPLETED.
var bookingTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCanceled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCanceled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCanceled, StatusNoShow},
}

var enrollmentTransitions = map[string][]string{
	StatusEnrolled:   {StatusInProgress, StatusDropped, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusDropped, StatusFailed},
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCanceled, StatusNoShow, StatusDropped, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a reservation of the given kind may move
// from one status to another.  Terminal states admit nothing; the
// lifecycle manager treats terminal→same as a no-op before consulting
// this table.
func CanTransition(kind, from, to string) bool {
	var table map[string][]string
	switch kind {
	case KindBooking:
		table = bookingTransitions
	case KindEnrollment:
		table = enrollmentTransitions
	default:
		return false
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialStatus returns the status a freshly admitted reservation of the
// given kind starts in.
func InitialStatus(kind string) string {
	if kind == KindEnrollment {
		return StatusEnrolled
	}
	return StatusPending
}

// PaymentStatusFor derives the payment sub-state from the cumulative paid
// amount and the total owed.  Refunds are not derived; recording a refund
// sets PaymentRefunded explicitly.
func PaymentStatusFor(paidCents, totalCents uint32) string {
	switch {
	case totalCents > 0 && paidCents >= totalCents:
		return PaymentPaid
	case paidCents > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}
