package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

// Response cache namespaces of the admin listings.
const (
	CacheUsers   = "users"
	CacheDoctors = "doctors"
)

type UserDirectory interface {
	ListWithRoles(ctx context.Context) ([]model.UserWithRoles, error)
	ListByRole(ctx context.Context, role string) ([]model.UserSummary, error)
	AssignRole(ctx context.Context, username, role string) error
	RemoveRole(ctx context.Context, username, role string) error
}

// CacheInvalidator is implemented by middleware.ResponseCache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, ns string) error
}

// Auditor is implemented by repository.AuditRepo.
type Auditor interface {
	Log(ctx context.Context, username, action string) error
}

// UserHandler serves the Admin-only user and role endpoints.  Role changes
// are audited after they commit.
type UserHandler struct {
	Users UserDirectory
	Cache CacheInvalidator
	Audit Auditor
	Log   *logrus.Entry
}

func NewUserHandler(users UserDirectory, cache CacheInvalidator, audit Auditor) *UserHandler {
	return &UserHandler{Users: users, Cache: cache, Audit: audit, Log: logging.Component("users")}
}

type roleReq struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// bindRoleReq accepts username and role either as query parameters or as a
// JSON body; query parameters win.
func bindRoleReq(c echo.Context) (roleReq, bool) {
	var req roleReq
	if c.Request().ContentLength != 0 {
		if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
			return req, false
		}
	}
	if v := c.QueryParam("username"); v != "" {
		req.Username = v
	}
	if v := c.QueryParam("role"); v != "" {
		req.Role = v
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Role = model.CanonicalRole(req.Role)
	return req, req.Username != "" && req.Role != ""
}

func (h *UserHandler) admin(c echo.Context) (bool, error) {
	p, ok := caller(c)
	if !ok {
		return false, unauthorized(c)
	}
	if !policy.CanAdministerUsers(p) {
		return false, forbidden(c)
	}
	return true, nil
}

func actor(c echo.Context) string {
	p, _ := caller(c)
	return p.Username
}

// List returns every user with their roles.
func (h *UserHandler) List(c echo.Context) error {
	if ok, err := h.admin(c); !ok {
		return err
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	users, err := h.Users.ListWithRoles(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, users)
}

// Doctors lists the users holding the Doctor role.
func (h *UserHandler) Doctors(c echo.Context) error {
	if ok, err := h.admin(c); !ok {
		return err
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	doctors, err := h.Users.ListByRole(ctx, model.RoleDoctor)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, doctors)
}

func (h *UserHandler) AssignRole(c echo.Context) error {
	if ok, err := h.admin(c); !ok {
		return err
	}
	req, ok := bindRoleReq(c)
	if !ok {
		return badRequest(c, "username and role are required")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.AssignRole(ctx, req.Username, req.Role); err != nil {
		return respondError(c, h.Log, err)
	}
	h.afterRoleChange(ctx, actor(c), fmt.Sprintf("assigned role %s to user %s", req.Role, req.Username))
	return c.JSON(http.StatusOK, echo.Map{"message": "role " + req.Role + " assigned to " + req.Username})
}

func (h *UserHandler) RemoveRole(c echo.Context) error {
	if ok, err := h.admin(c); !ok {
		return err
	}
	req, ok := bindRoleReq(c)
	if !ok {
		return badRequest(c, "username and role are required")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.RemoveRole(ctx, req.Username, req.Role); err != nil {
		return respondError(c, h.Log, err)
	}
	h.afterRoleChange(ctx, actor(c), fmt.Sprintf("removed role %s from user %s", req.Role, req.Username))
	return c.JSON(http.StatusOK, echo.Map{"message": "role " + req.Role + " removed from " + req.Username})
}

// afterRoleChange records the change and drops the cached listings.  Both
// are best-effort: the role change has already committed.
func (h *UserHandler) afterRoleChange(ctx context.Context, username, action string) {
	if h.Audit != nil {
		if err := h.Audit.Log(ctx, username, action); err != nil {
			h.Log.WithError(err).WithField("action", action).Error("audit write failed")
		}
	}
	invalidateUserListings(ctx, h.Cache, h.Log)
}

// invalidateUserListings drops the cached /users and /doctors bodies after
// any change to users or their roles.
func invalidateUserListings(ctx context.Context, cache CacheInvalidator, log *logrus.Entry) {
	if cache == nil {
		return
	}
	for _, ns := range []string{CacheUsers, CacheDoctors} {
		if err := cache.Invalidate(ctx, ns); err != nil {
			log.WithError(err).WithField("namespace", ns).Warn("cache invalidation failed")
		}
	}
}
