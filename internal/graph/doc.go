// Package graph holds the authoritative in-memory model of a JACK port graph.
//
// The model stores three kinds of entity, each keyed by an integer id issued by
// an IDAllocator:
//
//   - Group: a client or hardware device owning one or more ports
//   - Port: an audio or MIDI endpoint, matched by its canonical server name
//   - Connection: a directed edge from an output port to an input port
//
// Server handles are not identities (the server reuses them), so every lookup
// made on behalf of a server event goes through the canonical port name. The
// model keeps a name->id side index for ports and groups and an endpoint-pair
// index for connections, so none of the operations scan.
//
// # Invariants
//
//   - Every port belongs to exactly one live group.
//   - No two live ports share a canonical name.
//   - A group never exists without ports; it is removed in the same step as
//     its last port.
//   - At most one connection exists per (source, destination) pair.
//   - Ids are never reused within a process; Resync announces every removal
//     before the counters restart.
//
// # Presentation
//
// Every mutation is reported to a Notifier in mutation order. When removing a
// port, connection removals are reported first, then the port, then (if it
// was the last member) its group.
//
// # Thread Safety
//
// Model is not safe for concurrent use. It is owned by a single processing
// goroutine (see package reconciler) and needs no locks.
package graph
