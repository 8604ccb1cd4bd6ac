// Package events carries alert and result records from the decision core
// to external collaborators (persistence, notification). The core never
// blocks on a subscriber.
package events

import (
	"github.com/asaskevich/EventBus"
	log "github.com/sirupsen/logrus"
)

// Topics published by the decision core.
const (
	TopicSignal           = "signal:generated"
	TopicPositionOpened   = "position:opened"
	TopicPositionClosed   = "position:closed"
	TopicCircuitBreaker   = "risk:circuit_breaker"
	TopicBacktestComplete = "backtest:complete"
	TopicScanComplete     = "scanner:complete"
)

// Bus wraps the process-local event bus. Handlers run asynchronously;
// publish order per topic is preserved by transactional delivery.
type Bus struct {
	bus EventBus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

// Publish emits one record on a topic.
func (b *Bus) Publish(topic string, payload any) {
	b.bus.Publish(topic, payload)
}

// Subscribe registers a handler for a topic. The handler signature must
// match the published payload.
func (b *Bus) Subscribe(topic string, handler any) error {
	if err := b.bus.SubscribeAsync(topic, handler, true); err != nil {
		return err
	}
	log.WithField("topic", topic).Debug("events: subscriber registered")
	return nil
}

// Unsubscribe removes a handler from a topic.
func (b *Bus) Unsubscribe(topic string, handler any) error {
	return b.bus.Unsubscribe(topic, handler)
}

// Wait blocks until all async handlers have drained. Used by shutdown
// paths and tests.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}
