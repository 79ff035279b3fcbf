package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDatabaseMissing indicates the configured database does not exist.
type ErrDatabaseMissing struct {
	Database string
	Err      error
}

func (e ErrDatabaseMissing) Error() string {
	return fmt.Sprintf("database %q does not exist: %v", e.Database, e.Err)
}

func (e ErrDatabaseMissing) Unwrap() error {
	return e.Err
}

// ErrAuthentication indicates the server rejected the credentials.
type ErrAuthentication struct {
	User string
	Err  error
}

func (e ErrAuthentication) Error() string {
	return fmt.Sprintf("access denied for user %q (wrong password?): %v", e.User, e.Err)
}

func (e ErrAuthentication) Unwrap() error {
	return e.Err
}

// ErrConnection covers every other failure to reach the database.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Sprintf("database connection error: %v", e.Err)
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// Postgres SQLSTATE codes used for connection classification.
const (
	pgInvalidCatalogName   = "3D000"
	pgInvalidPassword      = "28P01"
	pgInvalidAuthorization = "28000"
)

func classifyPostgresError(err error, database, user string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgInvalidCatalogName:
			return ErrDatabaseMissing{Database: database, Err: err}
		case pgInvalidPassword, pgInvalidAuthorization:
			return ErrAuthentication{User: user, Err: err}
		}
	}
	return ErrConnection{Err: err}
}
