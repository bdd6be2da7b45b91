package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// admitOne books a single-participant reservation so lifecycle tests have
// something to mutate.
func admitOne(t *testing.T, env *admissionEnv, instanceID uint64, email string) *model.Reservation {
	t.Helper()
	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: instanceID,
		Customer:   customer(email),
	})
	require.NoError(t, err)
	return res
}

func TestTransitionBookingHappyPath(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	for _, to := range []string{model.StatusConfirmed, model.StatusCheckedIn, model.StatusCompleted} {
		updated, err := lc.Transition(context.Background(), env.scope, res.Number, to)
		require.NoError(t, err)
		assert.Equal(t, to, updated.Status)
	}

	stored, err := env.store.GetReservationByNumber(context.Background(), env.scope, res.Number)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
}

func TestTransitionEnrollmentHappyPath(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindCourse, 8, 30000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")
	require.Equal(t, model.StatusEnrolled, res.Status)

	for _, to := range []string{model.StatusInProgress, model.StatusCompleted} {
		updated, err := lc.Transition(context.Background(), env.scope, res.Number, to)
		require.NoError(t, err)
		assert.Equal(t, to, updated.Status)
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	// PENDING cannot jump straight to COMPLETED.
	_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Status vocabulary of the other kind is never valid for a booking.
	_, err = lc.Transition(context.Background(), env.scope, res.Number, model.StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := env.store.GetReservationByNumber(context.Background(), env.scope, res.Number)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestTransitionTerminalSameStatusIsNoOp(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusCanceled)
	require.NoError(t, err)

	// Re-sending the same terminal status is idempotent.
	updated, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, updated.Status)

	// Any other move out of a terminal status is rejected.
	_, err = lc.Transition(context.Background(), env.scope, res.Number, model.StatusConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUnknownNumberNotFound(t *testing.T) {
	env, _ := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)

	_, err := lc.Transition(context.Background(), env.scope, "RSV-20260831-XXXXXX", model.StatusConfirmed)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCancelUsesKindVocabulary(t *testing.T) {
	bookingEnv, bookingInst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(bookingEnv.store, nil, 5*time.Second)
	booking := admitOne(t, bookingEnv, bookingInst.ID, "ada@example.com")

	canceled, err := lc.Cancel(context.Background(), bookingEnv.scope, booking.Number)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, canceled.Status)

	courseEnv, courseInst := newAdmissionEnv(t, model.KindCourse, 8, 30000)
	lc = NewLifecycle(courseEnv.store, nil, 5*time.Second)
	enrollment := admitOne(t, courseEnv, courseInst.ID, "bree@example.com")

	dropped, err := lc.Cancel(context.Background(), courseEnv.scope, enrollment.Number)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDropped, dropped.Status)
}

func TestCancelReleasesCapacity(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 1, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("bree@example.com"),
	})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)

	_, err = lc.Cancel(context.Background(), env.scope, res.Number)
	require.NoError(t, err)

	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("bree@example.com"),
	})
	assert.NoError(t, err)
}

func TestNoShowReleasesCapacity(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 1, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusNoShow)
	require.NoError(t, err)

	committed, err := env.store.CountCommitted(context.Background(), env.scope, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), committed)
}

func TestRecordPaymentDerivesSubState(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com") // total 5000

	partial, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 2000, "card")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPartial, partial.PaymentStatus)
	assert.Equal(t, uint32(2000), partial.PaidCents)

	paid, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 3000, "cash")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, uint32(5000), paid.PaidCents)

	// Payment does not move the reservation status machine.
	assert.Equal(t, model.StatusPending, paid.Status)
}

func TestRecordPaymentRejectsZeroAmount(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 0, "card")
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestRecordRefund(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 5000, "card")
	require.NoError(t, err)

	refunded, err := lc.RecordRefund(context.Background(), env.scope, res.Number, 5000)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, refunded.PaymentStatus)
	assert.Equal(t, uint32(0), refunded.PaidCents)

	// Recording a payment on a refunded reservation is rejected.
	_, err = lc.RecordPayment(context.Background(), env.scope, res.Number, 1000, "card")
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestRecordPartialRefundKeepsRemainder(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 5000, "card")
	require.NoError(t, err)

	refunded, err := lc.RecordRefund(context.Background(), env.scope, res.Number, 2000)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, refunded.PaymentStatus)
	assert.Equal(t, uint32(3000), refunded.PaidCents)
}

func TestTransitionObservesConcurrentCancel(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusConfirmed)
	require.NoError(t, err)

	// One transaction cancels the reservation while holding its row
	// lock; a check-in started in the meantime must wait for the lock
	// and then see CANCELED, never overwrite it.
	locked := make(chan struct{})
	release := make(chan struct{})
	cancelDone := make(chan error, 1)
	go func() {
		cancelDone <- env.store.WithinTx(context.Background(), env.scope, func(tx repository.Tx) error {
			r, err := tx.GetReservationByNumber(context.Background(), res.Number)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			r.Status = model.StatusCanceled
			return tx.UpdateReservation(context.Background(), r)
		})
	}()
	<-locked

	checkinDone := make(chan error, 1)
	go func() {
		_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusCheckedIn)
		checkinDone <- err
	}()
	close(release)

	require.NoError(t, <-cancelDone)
	assert.ErrorIs(t, <-checkinDone, ErrInvalidTransition)

	stored, err := env.store.GetReservationByNumber(context.Background(), env.scope, res.Number)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, stored.Status)
}

func TestTransitionBusyWhenReservationLocked(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 50*time.Millisecond)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	locked := make(chan struct{})
	release := make(chan struct{})
	holdDone := make(chan error, 1)
	go func() {
		holdDone <- env.store.WithinTx(context.Background(), env.scope, func(tx repository.Tx) error {
			if _, err := tx.GetReservationByNumber(context.Background(), res.Number); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := lc.Transition(context.Background(), env.scope, res.Number, model.StatusConfirmed)
	assert.ErrorIs(t, err, repository.ErrBusy)

	close(release)
	require.NoError(t, <-holdDone)
}

func TestConcurrentPaymentsAccumulate(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com") // total 5000

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lc.RecordPayment(context.Background(), env.scope, res.Number, 1000, "card")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := env.store.GetReservationByNumber(context.Background(), env.scope, res.Number)
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), stored.PaidCents)
	assert.Equal(t, model.PaymentPaid, stored.PaymentStatus)
}

func TestTransitionCrossTenantNotFound(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)
	res := admitOne(t, env, inst.ID, "ada@example.com")

	other := env.store.SeedOrganization("coral-cove", "Coral Cove Diving")
	otherScope, err := tenant.Resolve(other.ID)
	require.NoError(t, err)

	_, err = lc.Transition(context.Background(), otherScope, res.Number, model.StatusConfirmed)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
