// Package reconciler applies JACK server events to the graph model.
//
// The server delivers events keyed by numeric port handles, which it reuses.
// The reconciler resolves every handle to its canonical port name before it
// touches the model, so identity is always by name.
//
// # Architecture
//
//	server callback --(non-blocking enqueue)--> queue --> Run loop --> graph.Model --> graph.Notifier
//	API / CLI       --(blocking, ctx)---------------^
//
// OnPortRegistration and OnConnect may be called from a real-time thread:
// they only copy the payload into a bounded channel and never block. If the
// channel is full the event is dropped and a full resync is scheduled, since
// the model can no longer be trusted.
//
// Run owns the model. Server events, user connect/disconnect requests,
// resyncs and read-only queries all execute there one at a time in arrival
// order, so the model needs no locking.
//
// # Failure Handling
//
// No event is retried. An unresolvable handle, a duplicate registration, or a
// connection between ports of the wrong direction is logged at debug level,
// counted, and dropped. The next resync restores consistency.
package reconciler
