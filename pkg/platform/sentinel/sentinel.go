package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and upstream
// clients return these (optionally wrapped) so services can translate them
// into domain errors:
//   - ErrNotFound: the record or identity does not exist
//   - ErrConflict: a unique key already exists
//   - ErrInvalidState: a guarded status transition found the row elsewhere
//   - ErrUnavailable: a dependency is temporarily unusable (breaker open, pool closed)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
