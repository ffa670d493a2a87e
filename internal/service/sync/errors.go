package sync

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind buckets failures for user messaging. Retry behaviour is identical
// across kinds; only the displayed text differs.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindPermission
)

// String returns the wire label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Message returns the user-facing text for the kind.
func (k Kind) Message() string {
	switch k {
	case KindNetwork:
		return "Could not reach the data store. Check your connection and retry."
	case KindPermission:
		return "The data store rejected the request as unauthorized."
	default:
		return "Something went wrong while loading data."
	}
}

// CategorizedError pairs a failure with its display category.
type CategorizedError struct {
	Kind Kind
	Err  error
}

func (e *CategorizedError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// permission-class Postgres SQLSTATE codes.
var permissionCodes = map[string]struct{}{
	"28000": {}, // invalid_authorization_specification
	"28P01": {}, // invalid_password
	"42501": {}, // insufficient_privilege
}

// Categorize buckets err into a CategorizedError. It never returns nil for a
// non-nil err.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := permissionCodes[pgErr.Code]; ok {
			return &CategorizedError{Kind: KindPermission, Err: err}
		}
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset"):
		return &CategorizedError{Kind: KindNetwork, Err: err}
	}
	return &CategorizedError{Kind: KindUnknown, Err: err}
}
