package model

import (
	"strings"
	"time"
)

// Role names known to the authorization policy.  Other names may exist in
// the roles table (they are created lazily) but carry no privileges.
const (
	RoleAdmin  = "Admin"
	RoleDoctor = "Doctor"
	RoleNurse  = "Nurse"
)

// CanonicalRole trims the name and maps the built-in roles to their
// canonical spelling regardless of case ("admin" -> "Admin").
func CanonicalRole(name string) string {
	name = strings.TrimSpace(name)
	for _, r := range []string{RoleAdmin, RoleDoctor, RoleNurse} {
		if strings.EqualFold(name, r) {
			return r
		}
	}
	return name
}

// User mirrors the `users` table.  PasswordHash never leaves the server.
//
// Fields:
//
//	ID             – users.id
//	Username       – unique login name
//	PasswordHash   – bcrypt hash
//	TelegramChatID – bound chat id, nil until the user links Telegram
//	CreatedAt      – registration time
type User struct {
	ID             uint64    `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	TelegramChatID *string   `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Linked reports whether the user has a Telegram chat bound.
func (u User) Linked() bool {
	return u.TelegramChatID != nil && strings.TrimSpace(*u.TelegramChatID) != ""
}

// Role is a row of the `roles` table.
type Role struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// UserWithRoles is the admin listing shape.
type UserWithRoles struct {
	ID       uint64   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// UserSummary is embedded wherever a user is referenced (patient doctor,
// doctors listing).
type UserSummary struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// AlertRecipient is a staff member reachable through Telegram.
type AlertRecipient struct {
	UserID   uint64
	Username string
	ChatID   string
}
