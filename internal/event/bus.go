// Package event provides per-topic broadcast of opaque text messages.
// Delivery is best-effort, at-most-once per listener: a publish never
// blocks, and a listener that stops draining its channel is pruned.
package event

import (
	"fmt"
	"sync"

	"github.com/kairoslabs/kairos/internal/logging"
)

// listenerCap bounds each listener channel. Small on purpose: the bus
// carries pings and progress notifications, not state.
const listenerCap = 5

// Bus broadcasts messages to listeners registered under a topic key.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]chan string
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]chan string),
	}
}

// Subscribe registers a new listener under topic and returns its channel.
// The channel is closed when the listener is pruned or the bus shuts down.
func (b *Bus) Subscribe(topic string) <-chan string {
	ch := make(chan string, listenerCap)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	n := len(b.topics[topic])
	b.mu.Unlock()

	logging.Debug("Event listener added", "topic", topic, "listeners", n)
	return ch
}

// Unsubscribe removes a listener channel from topic and closes it.
// A no-op if the channel was already pruned.
func (b *Bus) Unsubscribe(topic string, ch <-chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners := b.topics[topic]
	for i, l := range listeners {
		if l == ch {
			b.topics[topic] = append(listeners[:i], listeners[i+1:]...)
			close(l)
			return
		}
	}
}

// Publish sends msg to every listener on topic. Listeners whose channels
// are full are unsubscribed and closed rather than blocking the publish.
// Publishing to a topic with no listeners is a silent no-op.
func (b *Bus) Publish(topic, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners, ok := b.topics[topic]
	if !ok {
		return
	}

	// Iterate backwards so pruning does not skip listeners.
	for i := len(listeners) - 1; i >= 0; i-- {
		select {
		case listeners[i] <- msg:
		default:
			logging.Debug("Event listener pruned (channel full)", "topic", topic)
			close(listeners[i])
			listeners = append(listeners[:i], listeners[i+1:]...)
		}
	}
	b.topics[topic] = listeners
}

// ListenerCount returns the number of active listeners on topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Close prunes every listener on every topic.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, listeners := range b.topics {
		for _, ch := range listeners {
			close(ch)
		}
		delete(b.topics, topic)
	}
}

// FormatSSE frames a message for a server-sent event stream.
func FormatSSE(data string, eventName string) string {
	msg := fmt.Sprintf("data: %s\n\n", data)
	if eventName != "" {
		msg = fmt.Sprintf("event: %s\n%s", eventName, msg)
	}
	return msg
}
