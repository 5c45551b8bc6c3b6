package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectRoleLock(mock sqlmock.Sqlmock, role string, id int64) {
	mock.ExpectExec(`INSERT IGNORE INTO roles`).WithArgs(role).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM roles WHERE name = \? FOR UPDATE`).WithArgs(role).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func TestUserRepo_Create_FirstAdminSucceeds(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	expectRoleLock(mock, "Admin", 1)
	mock.ExpectExec(`INSERT INTO users`).WithArgs("root", "hash").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM user_roles WHERE role_id = \?\)`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO user_roles`).WithArgs(7, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.Create(context.Background(), "root", "hash", "admin")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_SecondAdminForbidden(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	expectRoleLock(mock, "Admin", 1)
	mock.ExpectExec(`INSERT INTO users`).WithArgs("root2", "hash").WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM user_roles WHERE role_id = \?\)`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "root2", "hash", "Admin")
	assert.ErrorIs(t, err, ErrAdminExists)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicateUsernameConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	expectRoleLock(mock, "Nurse", 3)
	mock.ExpectExec(`INSERT INTO users`).WithArgs("anna", "hash").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'anna'"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "anna", "hash", "Nurse")
	assert.ErrorIs(t, err, ErrUsernameExists)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_NonAdminSkipsAdminCheck(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	expectRoleLock(mock, "Doctor", 2)
	mock.ExpectExec(`INSERT INTO users`).WithArgs("house", "hash").WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(`INSERT INTO user_roles`).WithArgs(4, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.Create(context.Background(), "house", "hash", " doctor ")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AssignRole_AlreadyHeld(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE username = \?`).WithArgs("house").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	expectRoleLock(mock, "Doctor", 2)
	mock.ExpectExec(`INSERT INTO user_roles`).WithArgs(4, 2).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := repo.AssignRole(context.Background(), "house", "Doctor")
	assert.ErrorIs(t, err, ErrRoleAlreadyAssigned)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AssignRole_UnknownUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE username = \?`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.AssignRole(context.Background(), "ghost", "Nurse")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_RemoveRole(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "held role deletes one row", affected: 1},
		{name: "missing role is rejected", affected: 0, wantErr: ErrRoleNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewUserRepo(db)

			mock.ExpectQuery(`SELECT id FROM users WHERE username = \?`).WithArgs("anna").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
			mock.ExpectExec(`DELETE ur FROM user_roles ur`).WithArgs(3, "Nurse").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.RemoveRole(context.Background(), "anna", "nurse")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepo_ListWithRoles_GroupsRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT u.id, u.username, r.name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name"}).
			AddRow(1, "root", "Admin").
			AddRow(2, "house", "Doctor").
			AddRow(2, "house", "Nurse").
			AddRow(3, "fresh", nil))

	users, err := repo.ListWithRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"Admin"}, users[0].Roles)
	assert.Equal(t, []string{"Doctor", "Nurse"}, users[1].Roles)
	assert.Empty(t, users[2].Roles)
	assert.NotNil(t, users[2].Roles)
}

func TestUserRepo_AlertRecipients(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT DISTINCT u.id, u.username, u.telegram_chat_id`).
		WithArgs(model.RoleDoctor, model.RoleNurse).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "telegram_chat_id"}).
			AddRow(2, "house", "1001").
			AddRow(3, "anna", "1002"))

	got, err := repo.AlertRecipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.AlertRecipient{
		{UserID: 2, Username: "house", ChatID: "1001"},
		{UserID: 3, Username: "anna", ChatID: "1002"},
	}, got)
}

func TestUserRepo_FindByUsername_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE username = \?`).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "telegram_chat_id", "created_at"}))

	_, err := repo.FindByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
