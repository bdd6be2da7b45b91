package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

func TestResolveCustomerCreatesWithNormalizedEmail(t *testing.T) {
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)

	var got *model.Customer
	err = store.WithinTx(context.Background(), scope, func(tx repository.Tx) error {
		var err error
		got, err = resolveCustomer(context.Background(), tx, CustomerInput{
			Email: "  Ada@Example.COM ", FirstName: "Ada", LastName: "Marlow", Phone: "+1-555-0101",
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.NotZero(t, got.ID)

	customers := store.Customers(org.ID)
	require.Len(t, customers, 1)
	assert.Equal(t, "ada@example.com", customers[0].Email)
}

func TestResolveCustomerUpdatesProfileNotEmail(t *testing.T) {
	store := repository.NewMemoryStore()
	org := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	scope, err := tenant.Resolve(org.ID)
	require.NoError(t, err)

	seed := func(in CustomerInput) *model.Customer {
		var got *model.Customer
		err := store.WithinTx(context.Background(), scope, func(tx repository.Tx) error {
			var err error
			got, err = resolveCustomer(context.Background(), tx, in)
			return err
		})
		require.NoError(t, err)
		return got
	}

	first := seed(CustomerInput{Email: "ada@example.com", FirstName: "Ada", LastName: "Marlow"})
	second := seed(CustomerInput{Email: "ADA@example.com", FirstName: "Adeline", LastName: "Marlow", Phone: "+1-555-0199"})

	assert.Equal(t, first.ID, second.ID)
	customers := store.Customers(org.ID)
	require.Len(t, customers, 1)
	assert.Equal(t, "ada@example.com", customers[0].Email)
	assert.Equal(t, "Adeline", customers[0].FirstName)
	assert.Equal(t, "+1-555-0199", customers[0].Phone)
}

func TestResolveCustomerScopedPerOrganization(t *testing.T) {
	store := repository.NewMemoryStore()
	orgA := store.SeedOrganization("blue-reef", "Blue Reef Divers")
	orgB := store.SeedOrganization("coral-cove", "Coral Cove Diving")

	for _, org := range []uint64{orgA.ID, orgB.ID} {
		scope, err := tenant.Resolve(org)
		require.NoError(t, err)
		err = store.WithinTx(context.Background(), scope, func(tx repository.Tx) error {
			_, err := resolveCustomer(context.Background(), tx, CustomerInput{Email: "ada@example.com"})
			return err
		})
		require.NoError(t, err)
	}

	// The same email exists independently in each organization.
	assert.Len(t, store.Customers(orgA.ID), 1)
	assert.Len(t, store.Customers(orgB.ID), 1)
}
