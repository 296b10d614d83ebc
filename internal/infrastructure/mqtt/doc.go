// Package mqtt provides MQTT client connectivity for patchbay.
//
// patchbay never talks to JACK directly. A small relay process owns the JACK
// client and mirrors its port table onto the broker; this package carries
// that traffic in both directions:
//
//	JACK <-> relay <-> MQTT broker <-> patchbay
//
// It manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS, including JSON helpers
//   - Last Will and Testament on patchbay/system/status
//   - Topic builders for the relay contract (see Topics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.JACK.TopicPrefix)
//	err = client.Subscribe(topics.PortEvent(), 1, func(topic string, payload []byte) error {
//	    return handle(payload)
//	})
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) whenever the broker is not on localhost
//   - Anyone who can publish under the relay prefix can rewrite the graph
package mqtt
