package mqtt

import (
	"fmt"
	"slices"
)

// Subscribe routes messages matching topic (+ and # allowed) to handler and
// remembers the pair so it survives reconnects. A subscription the broker
// refuses is forgotten again.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.remember(subscription{topic: topic, qos: qos, handler: handler})

	err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), defaultOperationTimeout, ErrSubscribeFailed)
	if err != nil {
		c.forget(topic)
	}
	return err
}

// Unsubscribe drops topic. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.forget(topic)
	return await(c.client.Unsubscribe(topic), defaultOperationTimeout, ErrUnsubscribeFailed)
}

// remember records sub, replacing an earlier subscription to the same topic
// in place so the replay order is kept.
func (c *Client) remember(sub subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if i := c.indexOf(sub.topic); i >= 0 {
		c.subscriptions[i] = sub
		return
	}
	c.subscriptions = append(c.subscriptions, sub)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if i := c.indexOf(topic); i >= 0 {
		c.subscriptions = slices.Delete(c.subscriptions, i, i+1)
	}
}

// indexOf must be called with subMu held.
func (c *Client) indexOf(topic string) int {
	return slices.IndexFunc(c.subscriptions, func(s subscription) bool { return s.topic == topic })
}

// SubscriptionCount reports how many topics will be restored on reconnect.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription matches topic literally, not as a pattern.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.indexOf(topic) >= 0
}
