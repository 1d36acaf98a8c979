// Package eventbus provides a typed, in-process publish-subscribe bus for
// the daemon's subsystems. Publishers never see subscribers; subscribers
// register by topic and get back a cancellation handle. Delivery within a
// topic preserves publish order, and a single slow or panicking handler
// never blocks or breaks the others.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// BatchWindow is the coalescing window: publishes to the same topic within
// this window are delivered to subscribers as one ordered batch.
const BatchWindow = 16 * time.Millisecond

// Subscriber receives one event at a time; a coalesced batch is delivered as
// a sequence of calls, in publish order, within a single invocation round.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

type topicQueue struct {
	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
}

// Bus is the event bus. The zero value is not usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry
	queues      map[EventType]*topicQueue

	nextID uint64
	closed bool
}

var globalBus = New()

// New constructs an independent bus with its own watermill transport.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
		queues:      make(map[EventType]*topicQueue),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers fn for events of the given topic. The returned func
// unsubscribes it.
func Subscribe(topic EventType, fn Subscriber) func() { return globalBus.Subscribe(topic, fn) }

func (b *Bus) Subscribe(topic EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribe(topic, id) }
}

// SubscribeAll registers fn for every topic.
func SubscribeAll(fn Subscriber) func() { return globalBus.SubscribeAll(fn) }

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(topic EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, e := range subs {
		if e.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.global {
		if e.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

func (b *Bus) handlersFor(topic EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fns := make([]Subscriber, 0, len(b.subscribers[topic])+len(b.global))
	for _, e := range b.subscribers[topic] {
		fns = append(fns, e.fn)
	}
	for _, e := range b.global {
		fns = append(fns, e.fn)
	}
	return fns
}

// Publish enqueues event for coalesced delivery. If no publish to this topic
// is already pending, a BatchWindow timer starts; anything else published to
// the same topic before it fires joins the same batch. Delivery always
// happens off the caller's goroutine.
func Publish(event Event) { globalBus.Publish(event) }

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	b.mu.Lock()
	q, ok := b.queues[event.Type]
	if !ok {
		q = &topicQueue{}
		b.queues[event.Type] = q
	}
	b.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, event)
	startTimer := q.timer == nil
	if startTimer {
		q.timer = time.AfterFunc(BatchWindow, func() { b.flush(event.Type, q) })
	}
	q.mu.Unlock()
}

func (b *Bus) flush(topic EventType, q *topicQueue) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.timer = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, fn := range b.handlersFor(topic) {
		fn := fn
		go func() {
			for _, ev := range batch {
				safeCall(fn, ev)
			}
		}()
	}
}

// PublishSync delivers event to every current subscriber synchronously,
// bypassing the coalescing window. Used where callers need delivery to have
// completed before returning, e.g. shutdown-time drains.
func PublishSync(event Event) { globalBus.PublishSync(event) }

func (b *Bus) PublishSync(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	for _, fn := range b.handlersFor(event.Type) {
		safeCall(fn, event)
	}
}

// safeCall isolates a handler panic so it cannot take down the publisher or
// other handlers.
func safeCall(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", string(event.Type)).
				Interface("panic", r).
				Msg("eventbus: subscriber panicked")
		}
	}()
	fn(event)
}

// Reset tears down and replaces the global bus. For tests.
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.mu.Unlock()
	_ = globalBus.pubsub.Close()
	globalBus = New()
}

// Close stops accepting new subscribers/publishes and releases the
// underlying transport. Pending coalesced batches are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill transport for advanced wiring
// (e.g. bridging onto a distributed backend later).
func (b *Bus) PubSub() *gochannel.GoChannel { return b.pubsub }
func PubSub() *gochannel.GoChannel          { return globalBus.PubSub() }
