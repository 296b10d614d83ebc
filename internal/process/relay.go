package process

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
)

// RelayName names the JACK relay sidecar in logs and stats.
const RelayName = "jack-relay"

// ErrRelayUnhealthy is returned by the relay health check while the relay
// reports itself offline.
var ErrRelayUnhealthy = errors.New("process: relay not online")

// NewRelayConfig builds the supervision config for the JACK relay.
//
// The relay is told where the broker is and which topic prefix to publish
// under through PATCHBAY_* environment variables. online, if non-nil, backs
// the health check: a relay that stays offline for three checks is restarted.
func NewRelayConfig(relay config.RelayConfig, broker config.MQTTBrokerConfig, topicPrefix string, online func() bool) Config {
	cfg := DefaultConfig(RelayName, relay.Binary, relay.Args)
	cfg.RestartOnFailure = relay.RestartOnFailure
	cfg.MaxRestartAttempts = relay.MaxRestartAttempts
	if relay.RestartDelaySeconds > 0 {
		cfg.RestartDelay = time.Duration(relay.RestartDelaySeconds) * time.Second
	}
	cfg.Env = []string{
		"PATCHBAY_MQTT_HOST=" + broker.Host,
		"PATCHBAY_MQTT_PORT=" + strconv.Itoa(broker.Port),
		"PATCHBAY_JACK_TOPIC_PREFIX=" + topicPrefix,
	}
	if online != nil {
		cfg.HealthCheckFunc = func(context.Context) error {
			if !online() {
				return ErrRelayUnhealthy
			}
			return nil
		}
	}
	return cfg
}
