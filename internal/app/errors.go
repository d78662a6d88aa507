package app

import "errors"

var (
	// ErrNoSource is returned when an engine is built without a
	// measurement source.
	ErrNoSource = errors.New("no measurement source configured")
)
