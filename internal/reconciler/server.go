package reconciler

import (
	"context"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

// PortInfo is what the server reports for one live port.
type PortInfo struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Direction graph.Direction `json:"direction"`
	Physical  bool            `json:"physical"`
	Aliases   []string        `json:"aliases,omitempty"`
}

// Server is the read side of the external audio server.
//
// Implementations must be safe to call from the Run goroutine while the
// server is delivering events concurrently.
type Server interface {
	// EnumeratePorts lists every live port by canonical name, in server order.
	EnumeratePorts() []string

	// PortInfo describes a live port.
	PortInfo(name string) (PortInfo, bool)

	// ConnectedPeers lists the canonical names connected to a port.
	ConnectedPeers(name string) []string

	// HandleToName resolves a port handle. It reports false once the handle
	// is no longer valid.
	HandleToName(handle uint32) (string, bool)
}

// RetiredNames is implemented by servers that remember which name a handle
// carried when it was unregistered. The reconciler consults it for
// unregistration events so that a handle reused by a new port still removes
// the old one.
type RetiredNames interface {
	// ClaimRetired returns and forgets the oldest unclaimed name retired
	// from handle.
	ClaimRetired(handle uint32) (string, bool)
}

// Controller asks the server to change its connections. The model is not
// updated until the server confirms with a connect event.
type Controller interface {
	ConnectPorts(ctx context.Context, source, destination string) error
	DisconnectPorts(ctx context.Context, source, destination string) error
}
