package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
)

// ChatBinder stores and clears chat bindings.
type ChatBinder interface {
	BindChat(ctx context.Context, userID uint64, chatID string) error
	UnbindChat(ctx context.Context, userID uint64) error
}

// Notifier sends a best-effort message to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID, text string)
}

// TelegramHandler links the caller's account to a Telegram chat so vitals
// alerts can reach them.
type TelegramHandler struct {
	Users    ChatBinder
	Notifier Notifier
	Log      *logrus.Entry
}

func NewTelegramHandler(users ChatBinder, n Notifier) *TelegramHandler {
	return &TelegramHandler{Users: users, Notifier: n, Log: logging.Component("telegram")}
}

type bindReq struct {
	ChatID string `json:"chatId"`
}

// Bind stores the chat id and greets the chat.  The greeting is
// best-effort; binding succeeds even when Telegram is unreachable.
func (h *TelegramHandler) Bind(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req bindReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return badRequest(c, "chatId is required")
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.BindChat(ctx, p.UserID, chatID); err != nil {
		return respondError(c, h.Log, err)
	}
	if h.Notifier != nil {
		h.Notifier.Send(ctx, chatID, "Your account "+p.Username+" is now linked. You will receive patient vitals alerts here.")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Telegram chat linked", "linked": true})
}

// Unbind clears the caller's chat binding.
func (h *TelegramHandler) Unbind(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.UnbindChat(ctx, p.UserID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
