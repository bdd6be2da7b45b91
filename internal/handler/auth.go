package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shooter51/divestreams-server/internal/config"
	"github.com/shooter51/divestreams-server/internal/middleware"
	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/utils"
)

// AuthHandler bundles dependencies for the staff auth endpoints.  Staff
// accounts belong to one organization; the issued token carries that
// organization in its org claim and is rejected on any other tenant's
// routes.
type AuthHandler struct {
	Cfg   config.Config
	Store repository.Store
}

func NewAuthHandler(cfg config.Config, store repository.Store) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Store: store}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // STAFF | ADMIN
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type staffPart struct {
	ID             uint64 `json:"id"`
	OrganizationID uint64 `json:"organization_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}
type authResp struct {
	User   staffPart `json:"user"`
	Access tokenPart `json:"access"`
}

// Register creates a staff account in the resolved organization and
// returns an access token immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}

	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role != model.RoleAdmin && role != model.RoleStaff {
		role = model.RoleStaff
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}
	u := &model.StaffUser{Email: email, PasswordHash: hash, Role: role}
	if err := h.Store.CreateStaffUser(ctx, scope, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, scope.OrganizationID, role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}

	return c.JSON(http.StatusCreated, authResp{
		User:   staffPart{ID: u.ID, OrganizationID: scope.OrganizationID, Email: email, Role: role},
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Login verifies credentials against the resolved organization and
// returns a fresh access token.
func (h *AuthHandler) Login(c echo.Context) error {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}

	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Store.GetStaffUserByEmail(ctx, scope, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, scope.OrganizationID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}

	return c.JSON(http.StatusOK, authResp{
		User:   staffPart{ID: u.ID, OrganizationID: u.OrganizationID, Email: u.Email, Role: u.Role},
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}
