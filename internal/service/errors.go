package service

import (
	"errors"

	"github.com/nerrad567/owfs-core/internal/eventbus"
)

// Domain errors for the service package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, service.ErrInvariantViolation) {
//	    // a second event consumer was attached
//	}
var (
	// ErrInvariantViolation is returned when the single-consumer event
	// stream contract is broken. It is a programming error.
	ErrInvariantViolation = eventbus.ErrInvariantViolation

	// ErrNoServerFactory is returned by RegisterServer when the service was
	// built without a way to construct bus servers.
	ErrNoServerFactory = errors.New("service: no server factory configured")

	// ErrInvalidScanInterval is returned when a scan interval cannot be parsed.
	ErrInvalidScanInterval = errors.New("service: invalid scan interval")
)
