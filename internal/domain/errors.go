package domain

import "errors"

var (
	// Management errors.
	ErrNotFound              = errors.New("not found")
	ErrDuplicateName         = errors.New("a service with this name already exists")
	ErrDuplicateInstanceName = errors.New("an instance with this name already exists")
	ErrInvalidValue          = errors.New("invalid value")

	// Proxy path errors.
	ErrNoBackend          = errors.New("No backend available")
	ErrNoHealthyInstances = errors.New("No healthy instances available")
	ErrRateLimited        = errors.New("Rate limit exceeded")
	ErrUpstreamFailure    = errors.New("Proxy request failed")
)
