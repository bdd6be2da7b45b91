package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shooter51/divestreams-server/internal/middleware"
	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/service"
)

// ReservationHandler serves the admission and lifecycle endpoints.  The
// public routes (create, get) identify customers by contact details; the
// staff routes (status, payments, cancel) require a staff token for the
// same organization.
type ReservationHandler struct {
	Admission *service.Admission
	Lifecycle *service.Lifecycle
	Store     repository.Store
}

func NewReservationHandler(adm *service.Admission, lc *service.Lifecycle, store repository.Store) *ReservationHandler {
	return &ReservationHandler{Admission: adm, Lifecycle: lc, Store: store}
}

// ----- DTOs -----

// createReservationReq deliberately carries no pricing: the public
// endpoints are unauthenticated, so amounts always derive server-side
// from the effective instance price.
type createReservationReq struct {
	Customer     service.CustomerInput `json:"customer"`
	Participants uint32                `json:"participants"`
}

type statusReq struct {
	Status string `json:"status"`
}

type paymentReq struct {
	AmountCents uint32 `json:"amount_cents"`
	Method      string `json:"method"`
	Refund      bool   `json:"refund"`
}

type reservationResp struct {
	ID            uint64 `json:"id"`
	Number        string `json:"number"`
	Kind          string `json:"kind"`
	InstanceID    uint64 `json:"instance_id"`
	CustomerID    uint64 `json:"customer_id"`
	Participants  uint32 `json:"participants"`
	Status        string `json:"status"`
	SubtotalCents uint32 `json:"subtotal_cents"`
	DiscountCents uint32 `json:"discount_cents"`
	TaxCents      uint32 `json:"tax_cents"`
	TotalCents    uint32 `json:"total_cents"`
	PaidCents     uint32 `json:"paid_cents"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
}

func toReservationResp(r *model.Reservation) reservationResp {
	return reservationResp{
		ID:            r.ID,
		Number:        r.Number,
		Kind:          r.Kind,
		InstanceID:    r.InstanceID,
		CustomerID:    r.CustomerID,
		Participants:  r.Participants,
		Status:        r.Status,
		SubtotalCents: r.SubtotalCents,
		DiscountCents: r.DiscountCents,
		TaxCents:      r.TaxCents,
		TotalCents:    r.TotalCents,
		PaidCents:     r.PaidCents,
		PaymentStatus: r.PaymentStatus,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Create admits a booking on a trip instance.
// POST /v1/orgs/:slug/trips/:id/reservations
func (h *ReservationHandler) Create(c echo.Context) error {
	return h.admit(c, 0)
}

// CreateEnrollment admits an enrollment on a course session.  Enrollments
// always claim exactly one seat regardless of the requested participants.
// POST /v1/orgs/:slug/sessions/:id/enrollments
func (h *ReservationHandler) CreateEnrollment(c echo.Context) error {
	return h.admit(c, 1)
}

func (h *ReservationHandler) admit(c echo.Context, forcedParticipants uint32) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	instanceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || instanceID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance id"})
	}

	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if model.NormalizeEmail(req.Customer.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "customer email required"})
	}
	participants := req.Participants
	if forcedParticipants > 0 {
		participants = forcedParticipants
	}

	res, err := h.Admission.Admit(c.Request().Context(), scope, service.AdmitParams{
		InstanceID:   instanceID,
		Customer:     req.Customer,
		Participants: participants,
	})
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusCreated, toReservationResp(res))
}

// Get fetches one reservation by its number.
// GET /v1/orgs/:slug/reservations/:number
func (h *ReservationHandler) Get(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	number := strings.TrimSpace(c.Param("number"))
	if number == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation number"})
	}

	res, err := h.Store.GetReservationByNumber(c.Request().Context(), scope, number)
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// UpdateStatus applies a status transition.  Staff only.
// POST /v1/orgs/:slug/reservations/:number/status
func (h *ReservationHandler) UpdateStatus(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	number := strings.TrimSpace(c.Param("number"))

	var req statusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	to := strings.ToUpper(strings.TrimSpace(req.Status))
	if to == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status required"})
	}

	res, err := h.Lifecycle.Transition(c.Request().Context(), scope, number, to)
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// RecordPayment records a captured payment or refund.  Staff only.
// POST /v1/orgs/:slug/reservations/:number/payments
func (h *ReservationHandler) RecordPayment(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	number := strings.TrimSpace(c.Param("number"))

	var req paymentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	var (
		res *model.Reservation
		err error
	)
	if req.Refund {
		res, err = h.Lifecycle.RecordRefund(c.Request().Context(), scope, number, req.AmountCents)
	} else {
		res, err = h.Lifecycle.RecordPayment(c.Request().Context(), scope, number, req.AmountCents, req.Method)
	}
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// Cancel releases the reservation's capacity using the vocabulary of its
// kind.  Staff only.
// POST /v1/orgs/:slug/reservations/:number/cancel
func (h *ReservationHandler) Cancel(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	number := strings.TrimSpace(c.Param("number"))

	res, err := h.Lifecycle.Cancel(c.Request().Context(), scope, number)
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, toReservationResp(res))
}

// reservationError maps service and repository failures to HTTP
// responses.  Busy carries Retry-After so well-behaved clients back off
// instead of hammering the contended instance.
func reservationError(c echo.Context, err error) error {
	var capErr *service.CapacityError
	switch {
	case errors.As(err, &capErr):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "capacity_exceeded",
			"available": capErr.Available,
		})
	case errors.Is(err, repository.ErrBusy):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "busy", "message": "instance is contended, retry shortly"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition"})
	case errors.Is(err, service.ErrInvalidPayment):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payment"})
	case errors.Is(err, repository.ErrDuplicate):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
