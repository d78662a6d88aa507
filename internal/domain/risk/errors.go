package risk

import "errors"

var (
	// ErrNoSource is returned when an aggregator is built without a
	// measurement source.
	ErrNoSource = errors.New("no measurement source configured")
)
