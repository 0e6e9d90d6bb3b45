package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the feed client and the
// cache tiers return these (optionally wrapped) so callers can branch with
// errors.Is without knowing which backend produced them.
//
// - ErrNotFound: no row, key or checkpoint exists
// - ErrUnavailable: upstream or backing service temporarily unavailable
// - ErrInvalidState: operation rejected in the current lifecycle state
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
