package network

import "errors"

var (
	// ErrInvalidPreference is returned for an unknown sync preference.
	ErrInvalidPreference = errors.New("invalid sync preference")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("monitor not started")
)
