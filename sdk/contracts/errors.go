package contracts

import "errors"

// Error taxonomy of the fabric. Only ErrTransportOpen is fatal; every other
// condition is returned to the caller and leaves existing ports usable.
var (
	// ErrTransportOpen indicates the backend handle could not be created.
	ErrTransportOpen = errors.New("cannot open MIDI transport")
	// ErrCapacityExceeded indicates no free or reusable bus slot is available.
	ErrCapacityExceeded = errors.New("bus capacity exceeded")
	// ErrInvalidBus indicates a bus index outside the currently valid range.
	ErrInvalidBus = errors.New("bus index out of range")
	// ErrUnsupportedTransport indicates an unknown transport kind was requested.
	ErrUnsupportedTransport = errors.New("unsupported transport")
	// ErrVirtualUnsupported indicates the backend cannot create virtual ports.
	ErrVirtualUnsupported = errors.New("transport does not support virtual ports")
)
