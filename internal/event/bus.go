// Package event provides the pub/sub fabric between the request handlers
// and the SSE endpoints, built on watermill.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// Topic names one push concern. Each topic is served by its own SSE
// endpoint and carries its own logical-session routing.
type Topic string

// The two push concerns of the product.
const (
	TopicChat     Topic = "chat"
	TopicAnalysis Topic = "analysis"
)

// Subscriber is a function that receives stream events for a topic.
type Subscriber func(evt types.StreamEvent)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub using watermill's gochannel for infrastructure while
// keeping direct-call delivery so payloads stay typed.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Topic][]subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// globalBus is the default event bus instance.
var globalBus = newBus()

func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[Topic][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return newBus()
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a topic on the global bus.
// Returns an unsubscribe function.
func Subscribe(topic Topic, fn Subscriber) func() {
	return globalBus.Subscribe(topic, fn)
}

// Subscribe registers a subscriber for a topic.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(topic, id)
	}
}

// SubscribeAll registers a subscriber on every topic, e.g. for access
// logging or a combined debug stream. Returns one unsubscribe function
// covering all registrations.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsubs := []func(){
		b.Subscribe(TopicChat, fn),
		b.Subscribe(TopicAnalysis, fn),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish sends an event to the topic's subscribers on the global bus.
func Publish(topic Topic, evt types.StreamEvent) {
	globalBus.Publish(topic, evt)
}

// Publish sends an event to all topic subscribers asynchronously. Each
// subscriber is called in its own goroutine to prevent blocking.
func (b *Bus) Publish(topic Topic, evt types.StreamEvent) {
	for _, sub := range b.collect(topic) {
		go sub(evt)
	}
}

// PublishSync sends an event to the topic's subscribers on the global bus,
// calling every subscriber before returning.
func PublishSync(topic Topic, evt types.StreamEvent) {
	globalBus.PublishSync(topic, evt)
}

// PublishSync sends an event to all topic subscribers synchronously.
// Delivery order to a single subscriber matches publish order, which the
// SSE endpoints rely on for frame ordering.
func (b *Bus) PublishSync(topic Topic, evt types.StreamEvent) {
	for _, sub := range b.collect(topic) {
		sub(evt)
	}
}

// collect snapshots the subscriber list under the read lock.
func (b *Bus) collect(topic Topic) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	subs := make([]Subscriber, 0, len(b.subscribers[topic]))
	for _, entry := range b.subscribers[topic] {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Reset clears all subscribers from the global bus (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	_ = globalBus.pubsub.Close()

	// Small delay to allow goroutines to clean up
	time.Sleep(10 * time.Millisecond)

	globalBus = newBus()
}

// Close closes the bus and drops all its subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.subscribers = make(map[Topic][]subscriberEntry)
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases,
// such as swapping in a distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
