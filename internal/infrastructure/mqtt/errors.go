package mqtt

import "errors"

// Errors returned by Client. Broker-side causes are wrapped with %w, so test
// with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects anything outside 0..2 before it reaches paho.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")
	// ErrInvalidTopic rejects the empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
