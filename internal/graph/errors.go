package graph

import "errors"

// Errors returned by Model operations. All of them describe an event that was
// dropped without changing the model.
var (
	// ErrPortNotFound is returned when a canonical name has no live port.
	ErrPortNotFound = errors.New("graph: port not found")

	// ErrPortExists is returned by AddPort for a canonical name that is
	// already live. The existing id is returned alongside it.
	ErrPortExists = errors.New("graph: port already exists")

	// ErrInvalidPort is returned when a PortSpec lacks a canonical or group name.
	ErrInvalidPort = errors.New("graph: invalid port")

	// ErrConnectionExists is returned when the endpoint pair is already connected.
	ErrConnectionExists = errors.New("graph: connection already exists")

	// ErrConnectionNotFound is returned when no connection joins the endpoint pair.
	ErrConnectionNotFound = errors.New("graph: connection not found")

	// ErrInvalidDirection is returned when the source is not an output or the
	// destination is not an input.
	ErrInvalidDirection = errors.New("graph: invalid connection direction")
)
