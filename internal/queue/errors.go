package queue

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput         = errors.New("job input must contain at least one item")
	ErrUnknownJobType     = errors.New("unknown job type")
	ErrMissingOwner       = errors.New("job requires a tenant and a user")
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrInvalidProgress    = errors.New("invalid job progress")
	ErrInvalidStatus      = errors.New("unknown job status")
	ErrStorageUnavailable = errors.New("job storage unavailable")
	ErrNoUsageRecord      = errors.New("tenant has no usage record")
)

// ErrClaimLost is returned to a worker whose claim on a job was superseded,
// typically after its lease lapsed and another worker claimed the job.
var ErrClaimLost = fmt.Errorf("%w: claim no longer held", ErrInvalidTransition)
