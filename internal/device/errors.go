package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidStructure) {
//	    // owserver returned something we could not parse
//	}
var (
	// ErrInvalidStructure is returned when a structure line cannot be parsed.
	ErrInvalidStructure = errors.New("device: invalid structure")

	// ErrNoStructureSource is returned when a structure load has no server to ask.
	ErrNoStructureSource = errors.New("device: no structure source")
)
