package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/udisondev/shortid/internal/resolver"
)

// SQLSTATE codes worth retrying on the same connection.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement/lock timeout)
	"53300": true, // too_many_connections
}

// SQLSTATE codes after which the connection must be rebuilt.
var connectionCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"26000": true, // invalid_sql_statement_name (prepared statement lost)
}

// Classify wraps err with resolver.ErrTransient or resolver.ErrConnection
// when it is recoverable. Any other error is returned unchanged and is
// fatal to the resolver.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, resolver.ErrTransient) || errors.Is(err, resolver.ErrConnection) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case transientCodes[pgErr.Code]:
			return fmt.Errorf("%w: %w", resolver.ErrTransient, err)
		case connectionCodes[pgErr.Code], strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", resolver.ErrConnection, err)
		default:
			return err
		}
	}

	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", resolver.ErrTransient, err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %w", resolver.ErrConnection, err)
	}
	return err
}
