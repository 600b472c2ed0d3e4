package mqtt

import "errors"

// Sentinel errors. Check with errors.Is; returned errors usually wrap one of
// these with the topic or broker detail.
var (
	// Session state.
	ErrNotConnected       = errors.New("mqtt: client not connected")
	ErrConnectionFailed   = errors.New("mqtt: connection failed")
	ErrConnectionLost     = errors.New("mqtt: connection lost")
	ErrClientClosed       = errors.New("mqtt: client closed")
	ErrReconnectExhausted = errors.New("mqtt: reconnect attempts exhausted")

	// Operations.
	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	ErrTimeout         = errors.New("mqtt: operation timed out")

	// Input validation.
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
