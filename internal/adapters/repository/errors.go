package repository

import "errors"

var (
	// ErrUnavailable wraps store failures so callers can distinguish
	// "could not find out" from "nothing to report".
	ErrUnavailable = errors.New("measurement store unavailable")

	// ErrMissingDSN is returned when Open is called without a connection
	// string.
	ErrMissingDSN = errors.New("missing postgres dsn")
)
