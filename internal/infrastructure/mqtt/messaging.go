package mqtt

import (
	"fmt"
	"slices"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound payloads. Node firmware buffers are far
// smaller; anything near this is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends payload to a concrete topic (no wildcards).
//
// Commands and config pushes go out at QoS 1 and are never retained; the
// presence marker is the only retained message the server writes.
//
//	err := client.Publish(mqtt.Topics{}.Command("ph_ec_001"), payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q is not a publishable topic", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for a topic pattern on the live session.
// Matching messages are queued; the handler runs inside Drive.
func (c *Client) Subscribe(pattern string, qos byte, handler MessageHandler) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, pattern)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[pattern] = subscription{topic: pattern, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(pattern, qos, c.enqueue(handler)), ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, pattern)
		c.subMu.Unlock()
		return err
	}
	return nil
}

// Subscriptions returns the subscribed patterns, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	patterns := make([]string, 0, len(c.subscriptions))
	for p := range c.subscriptions {
		patterns = append(patterns, p)
	}
	c.subMu.RUnlock()

	slices.Sort(patterns)
	return patterns
}

// await waits for a paho token and wraps any failure in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no broker ack within %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
