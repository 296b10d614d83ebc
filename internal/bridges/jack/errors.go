package jack

import "errors"

// Errors returned by the bridge.
var (
	// ErrRelayOffline is returned for commands sent while the relay is not online.
	ErrRelayOffline = errors.New("jack: relay offline")

	// ErrInvalidRecord is returned for port records that cannot be mirrored.
	ErrInvalidRecord = errors.New("jack: invalid port record")

	// ErrInvalidMessage is returned for event or status payloads that cannot be decoded.
	ErrInvalidMessage = errors.New("jack: invalid message")
)
