// Package jack mirrors a JACK server that is published over MQTT by a relay
// process, and presents it to the reconciler.
//
// The relay owns the real JACK client. It keeps one retained record per port
// under {prefix}/port/{handle} and forwards JACK's registration and
// connection callbacks as events. This package:
//
//   - keeps a Mirror of the port records, which implements reconciler.Server
//   - forwards events to the reconciler queue (EventSink)
//   - sends connect/disconnect commands back to the relay (reconciler.Controller)
//   - publishes graph notifications on patchbay/graph/{event} (GraphPublisher)
//
// # Handle lifetime
//
// JACK keeps a handle valid while its unregistration callback runs, so the
// callback can still look up the port name. Over MQTT the tombstone for a
// port can overtake the event, so a retired handle stays resolvable for a
// short grace period (jack.handle_grace) before it is forgotten.
//
// # Relay availability
//
// Every transition of {prefix}/status to "online" requests a full resync.
// Going "offline" clears the mirror, so the graph empties until the relay
// comes back.
package jack
