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
)

// ErrInvalidPayment is returned for a zero payment or refund amount, or a
// payment recorded against an already refunded reservation.
var ErrInvalidPayment = errors.New("invalid payment")

// Lifecycle applies post-admission reservation mutations: status
// transitions, cancellation, no-show, and recorded payments.  Every
// mutation reads the reservation row under an exclusive lock, so
// concurrent mutations on the same reservation serialize and validate
// against current state rather than a stale snapshot.  Mutations that
// move a reservation between counted and uncounted statuses additionally
// take the same per-instance lock as admission, because they change the
// capacity accounting concurrent admissions depend on.
type Lifecycle struct {
	store       repository.Store
	events      EventPublisher
	lockTimeout time.Duration
	now         func() time.Time
}

// NewLifecycle returns a Lifecycle manager.  A nil publisher disables
// events; a non-positive lockTimeout means a 5s default.
func NewLifecycle(store repository.Store, events EventPublisher, lockTimeout time.Duration) *Lifecycle {
	if events == nil {
		events = NopPublisher{}
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Lifecycle{
		store:       store,
		events:      events,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves a reservation to a new status.  Transitioning to the
// current status is a no-op (including on terminal reservations); any
// other edge not in the kind's status machine returns
// ErrInvalidTransition.  Capacity-releasing transitions (cancel, no-show,
// drop, fail) serialize against admissions on the same instance.
func (s *Lifecycle) Transition(ctx context.Context, scope tenant.Scope, number, to string) (*model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		res  *model.Reservation
		from string
	)
	err := s.store.WithinTx(ctx, scope, func(tx repository.Tx) error {
		r, err := tx.GetReservationByNumber(ctx, number)
		if err != nil {
			return err
		}
		if r.Status == to {
			res, from = r, r.Status // no-op, nothing to record
			return nil
		}
		if model.Terminal(r.Status) {
			return ErrInvalidTransition
		}
		if !model.CanTransition(r.Kind, r.Status, to) {
			return ErrInvalidTransition
		}

		if model.Counted(r.Status) != model.Counted(to) {
			// This mutation changes the committed sum other admissions
			// read, so it must also hold the instance lock.  The
			// reservation row itself is already locked by the read
			// above, so its status cannot move underneath us.
			if _, err := tx.LockInstance(ctx, r.InstanceID); err != nil {
				return err
			}
		}

		from = r.Status
		r.Status = to
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != res.Status {
		s.publishStatusChanged(scope, res, from)
	}
	return res, nil
}

// Cancel releases a reservation's capacity using the vocabulary of its
// kind: CANCELED for bookings, DROPPED for enrollments.
func (s *Lifecycle) Cancel(ctx context.Context, scope tenant.Scope, number string) (*model.Reservation, error) {
	r, err := s.store.GetReservationByNumber(ctx, scope, number)
	if err != nil {
		return nil, err
	}
	to := model.StatusCanceled
	if r.Kind == model.KindEnrollment {
		to = model.StatusDropped
	}
	return s.Transition(ctx, scope, number, to)
}

// RecordPayment adds a recorded payment to the reservation and derives
// the payment sub-state: PAID once cumulative payments cover the total,
// PARTIAL in between.  Called by the payment processor integration after
// capture; the engine never initiates capture itself.  Payment mutations
// do not change counted membership and take no instance lock; the
// reservation row lock alone makes concurrent payments accumulate
// instead of overwriting each other.
func (s *Lifecycle) RecordPayment(ctx context.Context, scope tenant.Scope, number string, amountCents uint32, method string) (*model.Reservation, error) {
	if amountCents == 0 {
		return nil, ErrInvalidPayment
	}
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	var (
		res  *model.Reservation
		from string
	)
	err := s.store.WithinTx(ctx, scope, func(tx repository.Tx) error {
		r, err := tx.GetReservationByNumber(ctx, number)
		if err != nil {
			return err
		}
		if r.PaymentStatus == model.PaymentRefunded {
			return ErrInvalidPayment
		}
		from = r.Status
		r.PaidCents += amountCents
		r.PaymentStatus = model.PaymentStatusFor(r.PaidCents, r.TotalCents)
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("lifecycle: payment recorded reservation=%s amount_cents=%d method=%s status=%s",
		res.Number, amountCents, method, res.PaymentStatus)
	s.publishStatusChanged(scope, res, from)
	return res, nil
}

// RecordRefund marks the reservation refunded and reduces the cumulative
// paid amount by up to the refunded value.
func (s *Lifecycle) RecordRefund(ctx context.Context, scope tenant.Scope, number string, amountCents uint32) (*model.Reservation, error) {
	if amountCents == 0 {
		return nil, ErrInvalidPayment
	}
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	var (
		res  *model.Reservation
		from string
	)
	err := s.store.WithinTx(ctx, scope, func(tx repository.Tx) error {
		r, err := tx.GetReservationByNumber(ctx, number)
		if err != nil {
			return err
		}
		if amountCents >= r.PaidCents {
			r.PaidCents = 0
		} else {
			r.PaidCents -= amountCents
		}
		from = r.Status
		r.PaymentStatus = model.PaymentRefunded
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(scope, res, from)
	return res, nil
}

func (s *Lifecycle) publishStatusChanged(scope tenant.Scope, res *model.Reservation, from string) {
	ev := queue.ReservationStatusChangedEvent{
		EventID:        uuid.NewString(),
		OrganizationID: scope.OrganizationID,
		ReservationID:  res.ID,
		Number:         res.Number,
		Kind:           res.Kind,
		InstanceID:     res.InstanceID,
		FromStatus:     from,
		ToStatus:       res.Status,
		PaymentStatus:  res.PaymentStatus,
		PaidCents:      res.PaidCents,
		TotalCents:     res.TotalCents,
		ChangedAt:      s.now().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.ReservationStatusChanged(ctx, ev); err != nil {
			log.Printf("lifecycle: publish reservation.status_changed failed: %v", err)
		}
	}()
}
