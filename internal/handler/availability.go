package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shooter51/divestreams-server/internal/middleware"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/service"
)

// AvailabilityHandler serves capacity snapshots for activity instances.
// Responses are point-in-time quotes; admission re-derives the numbers
// under the instance lock, so the route is safe to cache.
type AvailabilityHandler struct {
	Capacity *service.Capacity
}

func NewAvailabilityHandler(capacity *service.Capacity) *AvailabilityHandler {
	return &AvailabilityHandler{Capacity: capacity}
}

// Get returns the availability snapshot for one instance.
// GET /v1/orgs/:slug/trips/:id/availability
func (h *AvailabilityHandler) Get(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	instanceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || instanceID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance id"})
	}

	av, err := h.Capacity.Resolve(c.Request().Context(), scope, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "instance not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "availability failed"})
	}
	return c.JSON(http.StatusOK, av)
}
