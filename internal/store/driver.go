package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver name every connection is opened with.
const DriverName = "sqlite3_tickmirror"

// connectionPragmas run on every new connection.
// foreign_keys stays off: the mirror copy inserts tables in catalog order,
// which need not respect references between them.
var connectionPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = OFF",
}

var registerOnce sync.Once

// Register registers DriverName with database/sql. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: applyPragmas,
		})
	})
}

func applyPragmas(conn *sqlite3.SQLiteConn) error {
	for _, pragma := range connectionPragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// OpenDB opens a *sql.DB through DriverName without establishing a connection.
func OpenDB(dsn string) (*sql.DB, error) {
	Register()
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// ErrorCode returns the SQLite result code carried by err, or the empty
// string when err did not come from SQLite.
func ErrorCode(err error) string {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code.Error()
	}
	return ""
}
