package quota

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTenant       = errors.New("invalid tenant id")
	ErrStorageUnavailable  = errors.New("usage storage unavailable")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidCount        = errors.New("generation count must be positive")
	ErrUnknownTier         = errors.New("unknown tier")
	ErrAlreadyCommitted    = errors.New("credits already committed for job")
)

// InsufficientCreditsError reports the shortfall of a denied reservation.
// It matches ErrInsufficientCredits under errors.Is.
type InsufficientCreditsError struct {
	Requested int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %d, %d available", e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
