package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

type admissionEnv struct {
	store *repository.MemoryStore
	adm   *Admission
	scope tenant.Scope
	org   model.Organization
}

// newAdmissionEnv seeds one organization with one template and one open
// instance starting tomorrow, and returns the instance alongside the env.
func newAdmissionEnv(t *testing.T, kind string, capacity, priceCents uint32) (*admissionEnv, model.ActivityInstance) {
	t.Helper()
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	tmpl := store.SeedTemplate(org.ID, kind, "Two-Tank Reef Dive", capacity, priceCents)
	inst := store.SeedInstance(org.ID, tmpl.ID, time.Now().UTC().Add(24*time.Hour), model.InstanceOpen, nil, nil)

	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)

	return &admissionEnv{
		store: store,
		adm:   NewAdmission(store, nil, 5*time.Second),
		scope: scope,
		org:   org,
	}, inst
}

func customer(email string) CustomerInput {
	return CustomerInput{Email: email, FirstName: "Ada", LastName: "Marlow", Phone: "+1-555-0101"}
}

func TestAdmitCreatesBooking(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("ada@example.com"),
		Participants: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, model.KindBooking, res.Kind)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.Equal(t, model.PaymentPending, res.PaymentStatus)
	assert.Equal(t, uint32(2), res.Participants)
	assert.Equal(t, uint32(10000), res.SubtotalCents)
	assert.Equal(t, uint32(10000), res.TotalCents)
	assert.True(t, strings.HasPrefix(res.Number, "RSV-"), "number %q", res.Number)

	customers := env.store.Customers(env.org.ID)
	require.Len(t, customers, 1)
	assert.Equal(t, "ada@example.com", customers[0].Email)
	assert.Equal(t, customers[0].ID, res.CustomerID)
}

func TestAdmitEnrollmentClaimsOneSeat(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindCourse, 8, 30000)

	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("ada@example.com"),
		Participants: 4, // enrollments ignore the requested count
	})
	require.NoError(t, err)

	assert.Equal(t, model.KindEnrollment, res.Kind)
	assert.Equal(t, model.StatusEnrolled, res.Status)
	assert.Equal(t, uint32(1), res.Participants)
	assert.True(t, strings.HasPrefix(res.Number, "ENR-"), "number %q", res.Number)
	assert.Equal(t, uint32(30000), res.TotalCents)
}

func TestAdmitZeroParticipantsDefaultsToOne(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Participants)
}

func TestAdmitCapacityExceededReportsRemaining(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 4, 5000)

	_, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("first@example.com"),
		Participants: 3,
	})
	require.NoError(t, err)

	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("second@example.com"),
		Participants: 2,
	})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, uint32(1), capErr.Available)

	// The failed admission left nothing behind: no reservation and no
	// customer row for the rejected request.
	assert.Len(t, env.store.Reservations(env.org.ID), 1)
	assert.Len(t, env.store.Customers(env.org.ID), 1)

	// The last seat is still grantable, after which nothing remains.
	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("second@example.com"),
		Participants: 1,
	})
	require.NoError(t, err)

	committed, err := env.store.CountCommitted(context.Background(), env.scope, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), committed)

	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("third@example.com"),
		Participants: 1,
	})
	capErr = nil
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, uint32(0), capErr.Available)
}

func TestAdmitExplicitPricingWins(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("ada@example.com"),
		Participants: 2,
		Pricing: &Pricing{
			SubtotalCents: 10000,
			DiscountCents: 1000,
			TaxCents:      720,
			TotalCents:    9720,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), res.DiscountCents)
	assert.Equal(t, uint32(720), res.TaxCents)
	assert.Equal(t, uint32(9720), res.TotalCents)
}

func TestAdmitInstanceOverridesApply(t *testing.T) {
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	tmpl := store.SeedTemplate(org.ID, model.KindTour, "Night Dive", 12, 8000)
	capOverride, priceOverride := uint32(2), uint32(9500)
	inst := store.SeedInstance(org.ID, tmpl.ID, time.Now().UTC().Add(24*time.Hour),
		model.InstanceOpen, &capOverride, &priceOverride)

	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)
	adm := NewAdmission(store, nil, 5*time.Second)

	res, err := adm.Admit(context.Background(), scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("ada@example.com"),
		Participants: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(19000), res.TotalCents)

	// The override capacity of 2 is now exhausted.
	_, err = adm.Admit(context.Background(), scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("bree@example.com"),
		Participants: 1,
	})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, uint32(0), capErr.Available)
}

func TestAdmitPastInstanceRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	tmpl := store.SeedTemplate(org.ID, model.KindTour, "Wreck Dive", 10, 5000)
	inst := store.SeedInstance(org.ID, tmpl.ID, time.Now().UTC().Add(-48*time.Hour), model.InstanceOpen, nil, nil)

	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)
	adm := NewAdmission(store, nil, 5*time.Second)

	_, err = adm.Admit(context.Background(), scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAdmitSameDayInstanceAllowed(t *testing.T) {
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	tmpl := store.SeedTemplate(org.ID, model.KindTour, "Morning Dive", 10, 5000)
	// Start of today: already departed by the clock, still the same
	// calendar date, so admission stays open.
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	inst := store.SeedInstance(org.ID, tmpl.ID, startOfDay, model.InstanceOpen, nil, nil)

	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)
	adm := NewAdmission(store, nil, 5*time.Second)

	_, err = adm.Admit(context.Background(), scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	assert.NoError(t, err)
}

func TestAdmitClosedInstanceRejected(t *testing.T) {
	for _, status := range []string{model.InstanceInProgress, model.InstanceCompleted, model.InstanceCanceled} {
		t.Run(status, func(t *testing.T) {
			store := repository.NewMemoryStore()
			org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
			tmpl := store.SeedTemplate(org.ID, model.KindTour, "Drift Dive", 10, 5000)
			inst := store.SeedInstance(org.ID, tmpl.ID, time.Now().UTC().Add(24*time.Hour), status, nil, nil)

			scope, err := tenant.Resolve(org.ID)
			require.NoError(t, err)
			adm := NewAdmission(store, nil, 5*time.Second)

			_, err = adm.Admit(context.Background(), scope, AdmitParams{
				InstanceID: inst.ID,
				Customer:   customer("ada@example.com"),
			})
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
	}
}

func TestAdmitForeignOrganizationInstanceNotFound(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	other := env.store.SeedOrganization("coral-cove", "Coral Cove Diving")

	otherScope, err := tenant.Resolve(other.ID)
	require.NoError(t, err)

	_, err = env.adm.Admit(context.Background(), otherScope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAdmitReusesCustomerAndRefreshesProfile(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	_, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   CustomerInput{Email: "Ada@Example.com", FirstName: "Ada", LastName: "Marlow"},
	})
	require.NoError(t, err)

	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   CustomerInput{Email: "  ada@example.COM ", FirstName: "Adeline", LastName: "Marlow", Phone: "+1-555-0199"},
	})
	require.NoError(t, err)

	customers := env.store.Customers(env.org.ID)
	require.Len(t, customers, 1)
	assert.Equal(t, "ada@example.com", customers[0].Email)
	assert.Equal(t, "Adeline", customers[0].FirstName)
	assert.Equal(t, "+1-555-0199", customers[0].Phone)
	assert.Len(t, env.store.Reservations(env.org.ID), 2)
}

func TestAdmitBusyWhenInstanceLockHeld(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	acquired := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- env.store.WithinTx(context.Background(), env.scope, func(tx repository.Tx) error {
			if _, err := tx.LockInstance(context.Background(), inst.ID); err != nil {
				return err
			}
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	adm := NewAdmission(env.store, nil, 50*time.Millisecond)
	_, err := adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	assert.ErrorIs(t, err, repository.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

// TestAdmitConcurrentNeverOversells drives many concurrent admissions at
// one instance and checks that exactly capacity seats were granted, never
// more, with every loser told the remaining count honestly.
func TestAdmitConcurrentNeverOversells(t *testing.T) {
	const capacity, requests = 5, 20
	env, inst := newAdmissionEnv(t, model.KindTour, capacity, 5000)

	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.adm.Admit(context.Background(), env.scope, AdmitParams{
				InstanceID:   inst.ID,
				Customer:     customer(fmt.Sprintf("diver%d@example.com", i)),
				Participants: 1,
			})
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
			continue
		}
		var capErr *CapacityError
		require.ErrorAs(t, err, &capErr, "unexpected error %v", err)
	}
	assert.Equal(t, capacity, granted)

	committed, err := env.store.CountCommitted(context.Background(), env.scope, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(capacity), committed)
}

// TestAdmitConcurrentSameEmailSingleCustomer checks the identity
// resolver under concurrency: admissions racing on one email end up
// sharing a single customer row, each with its own reservation.
func TestAdmitConcurrentSameEmailSingleCustomer(t *testing.T) {
	const requests = 5
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.adm.Admit(context.Background(), env.scope, AdmitParams{
				InstanceID:   inst.ID,
				Customer:     customer("ada@example.com"),
				Participants: 1,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, env.store.Customers(env.org.ID), 1)
	assert.Len(t, env.store.Reservations(env.org.ID), requests)
}

func TestAdmitConcurrentSameEmailAcrossInstances(t *testing.T) {
	// Different instances means no shared instance lock, so the two
	// admissions race purely on the customer uniqueness claim.  The
	// loser must block until the winner commits, then reuse the row;
	// both reservations succeed.
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)
	tmpl := env.store.SeedTemplate(env.org.ID, model.KindTour, "Wreck Dive", 10, 6000)
	other := env.store.SeedInstance(env.org.ID, tmpl.ID,
		time.Now().UTC().Add(48*time.Hour), model.InstanceOpen, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uint64{inst.ID, other.ID} {
		wg.Add(1)
		go func(i int, instanceID uint64) {
			defer wg.Done()
			_, errs[i] = env.adm.Admit(context.Background(), env.scope, AdmitParams{
				InstanceID:   instanceID,
				Customer:     customer("ada@example.com"),
				Participants: 1,
			})
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, env.store.Customers(env.org.ID), 1)
	assert.Len(t, env.store.Reservations(env.org.ID), 2)
}

func TestAdmitUnresolvedTenantFailsClosed(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 10, 5000)

	_, err := env.adm.Admit(context.Background(), tenant.Scope{}, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("ada@example.com"),
	})
	assert.ErrorIs(t, err, tenant.ErrTenantUnresolved)
	assert.Empty(t, env.store.Reservations(env.org.ID))
}

func TestAdmitCountsOnlyCommittedStatuses(t *testing.T) {
	env, inst := newAdmissionEnv(t, model.KindTour, 3, 5000)
	lc := NewLifecycle(env.store, nil, 5*time.Second)

	first, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("first@example.com"),
		Participants: 3,
	})
	require.NoError(t, err)

	_, err = env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID: inst.ID,
		Customer:   customer("second@example.com"),
	})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)

	// Canceling the first reservation releases its three seats.
	_, err = lc.Cancel(context.Background(), env.scope, first.Number)
	require.NoError(t, err)

	res, err := env.adm.Admit(context.Background(), env.scope, AdmitParams{
		InstanceID:   inst.ID,
		Customer:     customer("second@example.com"),
		Participants: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), res.Participants)
}
