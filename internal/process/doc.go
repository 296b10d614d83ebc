// Package process supervises the optional JACK relay sidecar.
//
// When relay.managed is set, patchbay starts the relay itself and keeps it
// alive:
//   - SIGTERM to the whole process group on Stop, SIGKILL after a timeout
//   - restart on failure with exponential backoff, reset after a stable run
//   - relay output captured into the patchbay log, line by line
//   - a health check on the relay's MQTT status that restarts a hung relay
//
// Example usage:
//
//	mgr := process.NewManager(process.NewRelayConfig(cfg.Relay, cfg.MQTT.Broker,
//	    cfg.JACK.TopicPrefix, bridge.RelayOnline))
//	mgr.SetLogger(log.Component("relay"))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
