package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/repository"
	"github.com/iliyamo/patient-recovery/internal/utils"
)

// CredentialStore is the part of the user repository auth needs.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	VerifyPassword(u model.User, plaintext string) bool
	Create(ctx context.Context, username, passwordHash, role string) (uint64, error)
	RolesOf(ctx context.Context, userID uint64) ([]string, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(u model.User, roles []string) (utils.AccessToken, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users      CredentialStore
	Tokens     TokenIssuer
	Cache      CacheInvalidator // optional; registration changes the user listings
	BcryptCost int
	Log        *logrus.Entry
}

func NewAuthHandler(users CredentialStore, tokens TokenIssuer, cache CacheInvalidator, bcryptCost int) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, Cache: cache, BcryptCost: bcryptCost, Log: logging.Component("auth")}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPart struct {
	ID       uint64   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type loginResp struct {
	utils.AccessToken
	User userPart `json:"user"`
}

// Register creates a user holding one initial role.  Only the very first
// Admin can be created this way.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Role = model.CanonicalRole(req.Role)
	if req.Username == "" || req.Password == "" || req.Role == "" {
		return badRequest(c, "username, password and role are required")
	}

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return respondError(c, h.Log, err)
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	id, err := h.Users.Create(ctx, req.Username, hash, req.Role)
	switch {
	case errors.Is(err, repository.ErrUsernameExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
	case errors.Is(err, repository.ErrAdminExists):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only one Admin can register; ask the existing Admin to assign the role"})
	case err != nil:
		return respondError(c, h.Log, err)
	}

	h.Log.WithFields(logging.Fields{"user_id": id, "role": req.Role}).Info("user registered")
	invalidateUserListings(ctx, h.Cache, h.Log)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "user registered successfully",
		"user":    userPart{ID: id, Username: req.Username, Roles: []string{req.Role}},
	})
}

// Login verifies credentials and returns a two-hour access token carrying
// the user's current roles.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "username and password are required")
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	u, err := h.Users.FindByUsername(ctx, req.Username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if !h.Users.VerifyPassword(u, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	roles, err := h.Users.RolesOf(ctx, u.ID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	tok, err := h.Tokens.Issue(u, roles)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, loginResp{
		AccessToken: tok,
		User:        userPart{ID: u.ID, Username: u.Username, Roles: roles},
	})
}

// CheckTelegram reports whether the caller has bound a Telegram chat.
func (h *AuthHandler) CheckTelegram(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := dbContext(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return unauthorized(c)
	}
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"linked": u.Linked()})
}

// Me echoes the principal decoded from the token.  Roles reflect the
// moment of login, not the current database state.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	return c.JSON(http.StatusOK, p)
}
