// Package event provides the harness's pub/sub event bus using watermill.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType names one of the catalog of events the harness publishes.
type EventType string

const (
	StatusUpdated   EventType = "status.updated"
	BacklogUpdated  EventType = "backlog.updated"
	FeatureUpdated  EventType = "feature.updated"
	SessionStarted  EventType = "session.started"
	SessionEnded    EventType = "session.ended"
	CostUpdate      EventType = "cost.update"
	ProgressUpdate  EventType = "progress.update"
	AlertCreated    EventType = "alert.created"
	VcsBranchChanged EventType = "vcs.branch_changed"
)

// Event is a single message published on the bus.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// DefaultQueueSize is the default bound on a subscriber's pending-event
// queue before the bus starts dropping the oldest queued event to make
// room for the newest one.
const DefaultQueueSize = 256

// subscriberEntry owns one bounded queue serviced by a dedicated goroutine,
// so a slow subscriber (e.g. a stalled websocket client) can never block a
// publisher or starve other subscribers.
type subscriberEntry struct {
	id        uint64
	eventType EventType // zero value means "global" subscriber
	fn        Subscriber
	queue     chan Event
	done      chan struct{}
	dropped   uint64
}

// Bus is the event bus that manages pub/sub using watermill for its
// underlying channel infrastructure, while keeping direct-call dispatch so
// subscribers receive strongly-typed Go values rather than re-decoded JSON.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]*subscriberEntry
	global      []*subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context

	queueSize    int
	droppedTotal uint64
}

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
		subscribers:  make(map[EventType][]*subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
		queueSize:    DefaultQueueSize,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type. Returns an
// unsubscribe function.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.subscribe(eventType, fn)
}

// SubscribeAll registers a subscriber for all events. Returns an
// unsubscribe function.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.subscribe("", fn)
}

func (b *Bus) subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}

	entry := &subscriberEntry{
		id:        b.newID(),
		eventType: eventType,
		fn:        fn,
		queue:     make(chan Event, b.queueSize),
		done:      make(chan struct{}),
	}
	if eventType == "" {
		b.global = append(b.global, entry)
	} else {
		b.subscribers[eventType] = append(b.subscribers[eventType], entry)
	}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case e, ok := <-entry.queue:
				if !ok {
					return
				}
				fn(e)
			case <-entry.done:
				return
			}
		}
	}()

	return func() {
		b.unsubscribe(eventType, entry.id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var list []*subscriberEntry
	if eventType == "" {
		list = b.global
	} else {
		list = b.subscribers[eventType]
	}

	for i, entry := range list {
		if entry.id == id {
			close(entry.done)
			list = append(list[:i], list[i+1:]...)
			break
		}
	}

	if eventType == "" {
		b.global = list
	} else {
		b.subscribers[eventType] = list
	}
}

// Publish enqueues an event for every matching subscriber without blocking
// the caller. A subscriber whose queue is full has its oldest queued event
// dropped (and the bus's drop counter incremented) to make room for the
// newest one, so one slow consumer never backs up the publisher.
func Publish(event Event) {
	globalBus.Publish(event)
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	entries := make([]*subscriberEntry, 0, len(b.subscribers[event.Type])+len(b.global))
	entries = append(entries, b.subscribers[event.Type]...)
	entries = append(entries, b.global...)
	b.mu.RUnlock()

	for _, entry := range entries {
		b.enqueue(entry, event)
	}
}

func (b *Bus) enqueue(entry *subscriberEntry, event Event) {
	select {
	case entry.queue <- event:
		return
	default:
	}

	// Queue full: drop the oldest queued event, then retry once.
	select {
	case <-entry.queue:
		atomic.AddUint64(&entry.dropped, 1)
		atomic.AddUint64(&b.droppedTotal, 1)
	default:
	}

	select {
	case entry.queue <- event:
	default:
		// Another publisher raced us; drop the newest event instead of
		// blocking.
		atomic.AddUint64(&entry.dropped, 1)
		atomic.AddUint64(&b.droppedTotal, 1)
	}
}

// DroppedTotal returns the number of events dropped across all subscribers
// due to queue overflow, exposed via the telemetry API's status endpoint.
func DroppedTotal() uint64 {
	return atomic.LoadUint64(&globalBus.droppedTotal)
}

func (b *Bus) DroppedTotal() uint64 {
	return atomic.LoadUint64(&b.droppedTotal)
}

// PublishSync sends an event to all subscribers synchronously, calling each
// one in the current goroutine before returning. Used by observers (the
// alert store) that must see every event, in order, before the triggering
// call returns.
func PublishSync(event Event) {
	globalBus.PublishSync(event)
}

func (b *Bus) PublishSync(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// NewBus creates a new, independent event bus instance (used by tests).
func NewBus() *Bus {
	return newBus()
}

// Reset clears all subscribers from the global bus (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	_ = globalBus.pubsub.Close()
	time.Sleep(10 * time.Millisecond)

	globalBus = newBus()
}

// Close closes the bus and all its subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()

	for _, entry := range b.global {
		close(entry.done)
	}
	for _, entries := range b.subscribers {
		for _, entry := range entries {
			close(entry.done)
		}
	}
	b.subscribers = make(map[EventType][]*subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
