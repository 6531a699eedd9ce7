// Package sentinel holds the storage-level facts stores report. Services
// translate them into domain errors; handlers never see them.
package sentinel

import "errors"

var (
	// ErrNotFound: the row does not exist, or a referenced parent is missing.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a venue slot overlaps a live booking, or a guarded
	// transition lost a race.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a unique key (slug, coupon code, idempotency key,
	// provider payment ID) is taken.
	ErrAlreadyUsed = errors.New("already used")
	// ErrSoldOut: an atomic capacity decrement found nothing left.
	ErrSoldOut = errors.New("sold out")
)
