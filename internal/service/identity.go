package service

import (
	"context"
	"errors"

	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
)

// CustomerInput is the contact information submitted with a reservation
// request.  Email identifies the customer within the organization; the
// remaining fields refresh the profile on every reservation.
type CustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// resolveCustomer finds or creates the customer row for the normalized
// email inside the caller's transaction, so it participates in the same
// atomicity as admission.  An existing row has its mutable profile fields
// updated (never the email).  A duplicate-key failure on insert means a
// concurrent transaction created the row first; it is re-read and used
// rather than surfaced.
func resolveCustomer(ctx context.Context, tx repository.Tx, in CustomerInput) (*model.Customer, error) {
	email := model.NormalizeEmail(in.Email)

	existing, err := tx.FindCustomerByEmail(ctx, email)
	switch {
	case err == nil:
		existing.FirstName = in.FirstName
		existing.LastName = in.LastName
		existing.Phone = in.Phone
		if err := tx.UpdateCustomerProfile(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	c := &model.Customer{
		Email:     email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}
	err = tx.InsertCustomer(ctx, c)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, err
	}
	// Lost the insert race: someone else just created this customer.
	return tx.FindCustomerByEmail(ctx, email)
}
