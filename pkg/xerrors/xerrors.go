package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidInput   = errors.New("invalid input provided")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrBatchClosed      = errors.New("batch already closed")
	ErrNoSubscriptions  = errors.New("no active push subscriptions")
)

const pgUniqueViolation = "23505"

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, e.g. two writers racing to open the same digest batch.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == pgUniqueViolation
}
