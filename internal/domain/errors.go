package domain

import "errors"

var (
	// ErrFetch covers network, rendering and page-shape failures; the source is skipped for the cycle
	ErrFetch = errors.New("fetch failed")
	// ErrStoreRead is logged and treated as an empty snapshot
	ErrStoreRead = errors.New("snapshot read failed")
	// ErrStoreWrite leaves the previous snapshot authoritative
	ErrStoreWrite = errors.New("snapshot write failed")
	// ErrDelivery does not affect persisted state
	ErrDelivery = errors.New("notification delivery failed")
	// ErrConfig is the only fatal class
	ErrConfig = errors.New("invalid configuration")
)
