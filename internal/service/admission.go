package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/queue"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
	"github.com/shooter51/divestreams-server/internal/utils"
)

// numberRetries bounds how often admission re-generates a reservation
// number after a per-organization uniqueness collision.
const numberRetries = 3

// Pricing overrides the instance-derived amounts for a reservation.  When
// absent, admission charges the effective instance price per participant
// with no discount or tax.
type Pricing struct {
	SubtotalCents uint32 `json:"subtotal_cents"`
	DiscountCents uint32 `json:"discount_cents"`
	TaxCents      uint32 `json:"tax_cents"`
	TotalCents    uint32 `json:"total_cents"`
}

// AdmitParams is one admission request against an activity instance.
type AdmitParams struct {
	InstanceID   uint64
	Customer     CustomerInput
	Participants uint32   // enrollments always claim exactly one seat
	Pricing      *Pricing // trusted callers only; nil derives amounts from the instance price
}

// Admission atomically admits or rejects reservations against instance
// capacity.  The per-instance row lock taken inside the transaction is
// the sole serialization point: concurrent admissions on the same
// instance execute in some total order, each seeing a consistent
// committed count, while admissions on other instances proceed
// untouched.
type Admission struct {
	store       repository.Store
	events      EventPublisher
	lockTimeout time.Duration
	now         func() time.Time
}

// NewAdmission returns an Admission controller.  lockTimeout bounds the
// whole serialized section including the lock wait; zero means a 5s
// default.  A nil publisher disables events.
func NewAdmission(store repository.Store, events EventPublisher, lockTimeout time.Duration) *Admission {
	if events == nil {
		events = NopPublisher{}
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Admission{
		store:       store,
		events:      events,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Admit runs the admission algorithm: lock the instance row, re-validate
// eligibility, recompute availability inside the lock, resolve the
// customer, and insert the reservation — all in one transaction.  Any
// failing step rolls everything back; no customer-without-reservation
// state is ever observable.
//
// Returns the created reservation, or: repository.ErrNotFound (unknown,
// closed, or past-dated instance), *CapacityError carrying the exact
// remaining count, repository.ErrBusy when the lock wait exceeded its
// bound (retryable), or tenant.ErrTenantUnresolved.
func (s *Admission) Admit(ctx context.Context, scope tenant.Scope, p AdmitParams) (*model.Reservation, error) {
	participants := p.Participants
	if participants == 0 {
		participants = 1
	}

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		res          *model.Reservation
		activityName string
		startsAt     time.Time
	)
	err := s.store.WithinTx(ctx, scope, func(tx repository.Tx) error {
		inst, err := tx.LockInstance(ctx, p.InstanceID)
		if err != nil {
			return err
		}
		activityName = inst.TemplateName
		startsAt = inst.StartsAt
		if !s.eligible(inst) {
			// A closed or past-dated instance is not bookable; callers
			// see the same answer as for an unknown one.
			return repository.ErrNotFound
		}

		kind := model.KindBooking
		if inst.TemplateKind == model.KindCourse {
			kind = model.KindEnrollment
			participants = 1
		}

		// Availability quoted before the lock is stale by definition;
		// only this in-lock recomputation decides.
		committed, err := tx.CountCommitted(ctx, p.InstanceID)
		if err != nil {
			return err
		}
		avail := availabilityFor(inst, committed)
		if participants > avail.Available {
			return &CapacityError{Available: avail.Available}
		}

		cust, err := resolveCustomer(ctx, tx, p.Customer)
		if err != nil {
			return err
		}

		pricing := p.Pricing
		if pricing == nil {
			subtotal := inst.EffectivePriceCents() * participants
			pricing = &Pricing{SubtotalCents: subtotal, TotalCents: subtotal}
		}

		res = &model.Reservation{
			InstanceID:    p.InstanceID,
			CustomerID:    cust.ID,
			Kind:          kind,
			Participants:  participants,
			Status:        model.InitialStatus(kind),
			SubtotalCents: pricing.SubtotalCents,
			DiscountCents: pricing.DiscountCents,
			TaxCents:      pricing.TaxCents,
			TotalCents:    pricing.TotalCents,
			PaidCents:     0,
			PaymentStatus: model.PaymentPending,
		}
		for attempt := 0; ; attempt++ {
			number, err := utils.NewReservationNumber(kind, s.now())
			if err != nil {
				return err
			}
			res.Number = number
			err = tx.InsertReservation(ctx, res)
			if err == nil {
				return nil
			}
			if !errors.Is(err, repository.ErrDuplicate) || attempt >= numberRetries {
				return err
			}
		}
	})
	if err != nil {
		return nil, err
	}

	s.publishCreated(scope, res, p.Customer.Email, activityName, startsAt)
	return res, nil
}

// eligible re-validates the instance under the lock: status must accept
// reservations and the start date must not lie before today.  The
// comparison uses start-of-day boundaries so same-day reservations stay
// valid for the whole calendar date.
func (s *Admission) eligible(inst *model.ActivityInstance) bool {
	if !inst.Bookable() {
		return false
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !inst.StartsAt.UTC().Before(today)
}

// publishCreated fires the reservation.created event best-effort.  Event
// delivery belongs to downstream collaborators and must never block or
// fail an admission that already committed.
func (s *Admission) publishCreated(scope tenant.Scope, res *model.Reservation, email, activityName string, startsAt time.Time) {
	ev := queue.ReservationCreatedEvent{
		EventID:        uuid.NewString(),
		OrganizationID: scope.OrganizationID,
		ReservationID:  res.ID,
		Number:         res.Number,
		Kind:           res.Kind,
		InstanceID:     res.InstanceID,
		ActivityName:   activityName,
		StartsAt:       startsAt.UTC().Format(time.RFC3339),
		CustomerID:     res.CustomerID,
		CustomerEmail:  model.NormalizeEmail(email),
		Participants:   res.Participants,
		TotalCents:     res.TotalCents,
		CreatedAt:      s.now().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.ReservationCreated(ctx, ev); err != nil {
			log.Printf("admission: publish reservation.created failed: %v", err)
		}
	}()
}
