package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/utils"
)

// UserRepo is the credential store: users, their roles and chat bindings.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, username, password_hash, telegram_chat_id, created_at"

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u    model.User
		chat sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &chat, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	if chat.Valid {
		v := chat.String
		u.TelegramChatID = &v
	}
	return u, nil
}

// FindByUsername looks a user up by exact username.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? LIMIT 1", username))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	return u, err
}

// VerifyPassword compares plaintext against the stored bcrypt hash.
func (r *UserRepo) VerifyPassword(u model.User, plaintext string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return utils.VerifyPassword(u.PasswordHash, plaintext)
}

// Create registers a user holding a single initial role and returns the new
// id.
//
// The role row is created on first reference and then locked FOR UPDATE for
// the rest of the transaction, so two registrations naming the same role are
// serialized. That lock is what makes the Admin rule safe: a registration
// asking for Admin is refused with ErrAdminExists as soon as any Admin
// assignment exists anywhere. Duplicate usernames surface as
// ErrUsernameExists through the unique index.
func (r *UserRepo) Create(ctx context.Context, username, passwordHash, role string) (uint64, error) {
	role = model.CanonicalRole(role)
	var id uint64
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		roleID, err := ensureRole(ctx, tx, role)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
		if err != nil {
			if isDuplicateKey(err) {
				return ErrUsernameExists
			}
			return err
		}
		if role == model.RoleAdmin {
			var taken bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM user_roles WHERE role_id = ?)", roleID).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return ErrAdminExists
			}
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = uint64(newID)
		_, err = tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)", id, roleID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ensureRole creates the role when missing and returns its id with the row
// locked until the surrounding transaction ends.
func ensureRole(ctx context.Context, tx *sql.Tx, name string) (uint64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: role is required", ErrInvalid)
	}
	if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO roles (name) VALUES (?)", name); err != nil {
		return 0, err
	}
	var id uint64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM roles WHERE name = ? FOR UPDATE", name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RolesOf returns the role names held by a user, alphabetically.
func (r *UserRepo) RolesOf(ctx context.Context, userID uint64) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT r.name FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = ?
		 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func hasRole(ctx context.Context, q queryer, userID uint64, role string) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM user_roles ur
		   JOIN roles r ON r.id = ur.role_id
		   WHERE ur.user_id = ? AND r.name = ?)`, userID, role).Scan(&ok)
	return ok, err
}

// ListWithRoles returns every user with the names of their roles.
func (r *UserRepo) ListWithRoles(ctx context.Context) ([]model.UserWithRoles, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.id, u.username, r.name
		 FROM users u
		 LEFT JOIN user_roles ur ON ur.user_id = u.id
		 LEFT JOIN roles r ON r.id = ur.role_id
		 ORDER BY u.id, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.UserWithRoles{}
	for rows.Next() {
		var (
			id       uint64
			username string
			role     sql.NullString
		)
		if err := rows.Scan(&id, &username, &role); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, model.UserWithRoles{ID: id, Username: username, Roles: []string{}})
		}
		if role.Valid {
			last := &out[len(out)-1]
			last.Roles = append(last.Roles, role.String)
		}
	}
	return out, rows.Err()
}

// ListByRole returns the users holding role, ordered by username.
func (r *UserRepo) ListByRole(ctx context.Context, role string) ([]model.UserSummary, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 JOIN roles r ON r.id = ur.role_id
		 WHERE r.name = ?
		 ORDER BY u.username`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.UserSummary{}
	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(&s.ID, &s.Username); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AssignRole grants role to the named user. Holding it already yields
// ErrRoleAlreadyAssigned; the composite primary key guarantees no duplicate
// row even under concurrent calls.
func (r *UserRepo) AssignRole(ctx context.Context, username, role string) error {
	role = model.CanonicalRole(role)
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var userID uint64
		err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ? LIMIT 1", username).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		roleID, err := ensureRole(ctx, tx, role)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)", userID, roleID); err != nil {
			if isDuplicateKey(err) {
				return ErrRoleAlreadyAssigned
			}
			return err
		}
		return nil
	})
}

// RemoveRole revokes role from the named user, deleting exactly one
// assignment row. ErrRoleNotAssigned is returned when there is none.
func (r *UserRepo) RemoveRole(ctx context.Context, username, role string) error {
	role = model.CanonicalRole(role)
	var userID uint64
	err := r.DB.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ? LIMIT 1", username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`DELETE ur FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = ? AND r.name = ?`, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotAssigned
	}
	return nil
}

// BindChat stores the Telegram chat id used to reach the user.
func (r *UserRepo) BindChat(ctx context.Context, userID uint64, chatID string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET telegram_chat_id = ? WHERE id = ?", chatID, userID)
	return err
}

// UnbindChat clears the user's chat binding.
func (r *UserRepo) UnbindChat(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET telegram_chat_id = NULL WHERE id = ?", userID)
	return err
}

// AlertRecipients returns every Doctor or Nurse with a bound chat, once per
// user even when they hold both roles.
func (r *UserRepo) AlertRecipients(ctx context.Context) ([]model.AlertRecipient, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.telegram_chat_id
		 FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 JOIN roles r ON r.id = ur.role_id
		 WHERE r.name IN (?, ?)
		   AND u.telegram_chat_id IS NOT NULL
		   AND u.telegram_chat_id <> ''
		 ORDER BY u.id`, model.RoleDoctor, model.RoleNurse)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AlertRecipient{}
	for rows.Next() {
		var rc model.AlertRecipient
		if err := rows.Scan(&rc.UserID, &rc.Username, &rc.ChatID); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
