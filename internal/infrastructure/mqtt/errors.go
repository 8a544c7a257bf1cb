package mqtt

import "errors"

// Sentinel errors for MQTT operations. Match with errors.Is; wrapped
// variants carry the underlying paho error.
var (
	// ErrNotConnected: operation attempted while disconnected from the broker.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed: the initial broker connection did not come up.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed: the broker did not acknowledge a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed: the broker rejected or timed out a subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed: the broker rejected or timed out an unsubscribe.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS: QoS outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic: empty topic string.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
