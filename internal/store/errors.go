package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection is returned for a collection not in the schema.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnavailable indicates persistent storage could not be opened.
	ErrUnavailable = errors.New("persistent storage unavailable")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

func unknownCollection(c Collection) error {
	return fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
}
