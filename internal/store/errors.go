package store

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConflict is returned when a unique column already holds the value.
	ErrConflict = errors.New("already exists")

	// ErrAlreadyResolved is returned when a deletion request is no longer pending.
	ErrAlreadyResolved = errors.New("deletion request already resolved")

	// ErrPendingRequest is returned when an item already has a pending deletion request.
	ErrPendingRequest = errors.New("item already has a pending deletion request")
)

// isUniqueViolation reports whether err is a unique or primary key violation
// from either supported driver.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}
