package ai

import "github.com/kiranshivaraju/genqueue/internal/ai/transport"

var (
	ErrProviderUnavailable = transport.ErrProviderUnavailable
	ErrInferenceTimeout    = transport.ErrInferenceTimeout
	ErrRateLimited         = transport.ErrRateLimited
	ErrRequestRejected     = transport.ErrRequestRejected
	ErrInvalidResponse     = transport.ErrInvalidResponse
)

// Retriable reports whether err is a transient provider failure.
func Retriable(err error) bool { return transport.Retriable(err) }
