package errs

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// FromHTTPError classifies an error surfaced by an outbound HTTP client
// call into a catalog code.
func FromHTTPError(err error, statusCode int) *Error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return New(QuotaRateLimited).WithDevMessage(err.Error()).WithMeta("provider", "http").WithCause(err)
	case statusCode >= 500 || statusCode == 0:
		return New(ProviderUnavailable).WithDevMessage(err.Error()).WithMeta("provider", "http").WithCause(err)
	default:
		return New(ToolExecutionError).WithDevMessage(err.Error()).WithMeta("provider", "http").WithCause(err)
	}
}

// FromPgxError classifies an error returned by the pgx-backed relational
// store implementation into a catalog code.
func FromPgxError(err error) *Error {
	if errors.Is(err, pgx.ErrNoRows) {
		return New(StorageNotFound).WithDevMessage("pgx: no rows").WithCause(err)
	}
	return New(ProviderUnavailable).WithDevMessage(err.Error()).WithMeta("provider", "db").WithCause(err)
}
