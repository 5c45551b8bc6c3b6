// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// looking at SQL driver errors.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller's role or ownership does not
// permit an operation. Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write collides with existing state (for
// example a duplicate unique key). Handlers translate it into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrInvalid marks a write rejected because its input refers to something
// that does not qualify (e.g. a doctor id of a user without the Doctor role).
// Handlers translate it into HTTP 400.
var ErrInvalid = errors.New("invalid")

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrDiagnosisNotFound = errors.New("diagnosis not found")
	ErrVitalNotFound     = errors.New("vital record not found")
	ErrRehabLogNotFound  = errors.New("rehabilitation log not found")

	ErrUsernameExists      = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrAdminExists         = fmt.Errorf("%w: admin role can only be assigned by an existing admin", ErrForbidden)
	ErrRoleAlreadyAssigned = fmt.Errorf("%w: user already has this role", ErrInvalid)
	ErrRoleNotAssigned     = fmt.Errorf("%w: user does not have this role", ErrInvalid)
	ErrNotADoctor          = fmt.Errorf("%w: doctor not found or lacks the Doctor role", ErrInvalid)
)

// MySQL server error numbers we react to.
const (
	mysqlDuplicateEntry = 1062
	mysqlNoReferenced   = 1452
)

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func isMissingReference(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlNoReferenced
}
