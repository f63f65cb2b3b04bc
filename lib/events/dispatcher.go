package events

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("events")

// Handler is called for every event matching a subscription. A returned
// error is logged and does not stop the delivery to other subscribers.
type Handler func(e Event) error

// Subscription is the handle returned by Subscribe
type Subscription struct {
	id      uint64
	topic   Topic
	handler Handler
	active  atomic.Bool
	parent  *Dispatcher
}

// Dispatcher routes events to subscribers.
//
// Subscribe and Unsubscribe may be called from any goroutine (including from
// inside a handler). Publish delivers synchronously on the calling goroutine,
// in registration order, to every subscriber whose topic matches. The
// subscriber list is copy-on-write, so Publish never holds a lock while a
// handler runs.
type Dispatcher struct {
	mu     sync.Mutex // serializes writers of subs
	subs   atomic.Pointer[[]*Subscription]
	nextID atomic.Uint64

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// DispatcherStats are counters of a dispatcher
type DispatcherStats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Failed      uint64
}

// NewDispatcher creates a dispatcher without subscribers
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	empty := make([]*Subscription, 0)
	d.subs.Store(&empty)
	return d
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// Subscribe registers handler for topic and all its sub-topics. Use TopicAll
// to receive every event.
func (d *Dispatcher) Subscribe(topic Topic, handler Handler) *Subscription {
	if handler == nil {
		panic("events: nil handler")
	}

	s := &Subscription{
		id:      d.nextID.Add(1),
		topic:   topic,
		handler: handler,
		parent:  d,
	}
	s.active.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()

	old := *d.subs.Load()
	next := make([]*Subscription, len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	d.subs.Store(&next)

	Logger.Debugf("subscription %d registered for %s", s.id, topic)
	return s
}

// SubscribeFunc registers a handler for events of type T only. Events on
// matching topics with a different type are skipped.
func SubscribeFunc[T Event](d *Dispatcher, topic Topic, fn func(T) error) *Subscription {
	return d.Subscribe(topic, func(e Event) error {
		if typed, ok := e.(T); ok {
			return fn(typed)
		}
		return nil
	})
}

// Unsubscribe removes the subscription. An event that is being published
// concurrently may still be delivered once. Returns false if the
// subscription was already removed.
func (s *Subscription) Unsubscribe() bool {
	if !s.active.CompareAndSwap(true, false) {
		return false
	}
	s.parent.remove(s)
	return true
}

// Topic returns the topic of the subscription
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Active reports whether the subscription still receives events
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Len returns the number of subscriptions
func (d *Dispatcher) Len() int {
	return len(*d.subs.Load())
}

// Clear removes all subscriptions
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range *d.subs.Load() {
		s.active.Store(false)
	}
	empty := make([]*Subscription, 0)
	d.subs.Store(&empty)
}

// --------------------------------------------------------------------------
// Publishing
// --------------------------------------------------------------------------

// Publish delivers e to all matching subscribers and returns how many
// handlers were called. Failing or panicking handlers are logged.
func (d *Dispatcher) Publish(e Event) int {
	if e == nil {
		return 0
	}
	d.published.Add(1)

	topic := e.Topic()
	n := 0
	for _, s := range *d.subs.Load() {
		if !s.active.Load() || !s.topic.Matches(topic) {
			continue
		}
		n++
		if err := s.call(e); err != nil {
			d.failed.Add(1)
			Logger.Warningf("handler of subscription %d (%s) failed for %s: %v", s.id, s.topic, topic, err)
		}
	}
	d.delivered.Add(uint64(n))
	return n
}

// Stats returns the counters of the dispatcher
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Subscribers: d.Len(),
		Published:   d.published.Load(),
		Delivered:   d.delivered.Load(),
		Failed:      d.failed.Load(),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call runs the handler and converts a panic into an error
func (s *Subscription) call(e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(e)
}

// remove drops s from the subscriber list
func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := *d.subs.Load()
	next := make([]*Subscription, 0, len(old))
	for _, o := range old {
		if o != s {
			next = append(next, o)
		}
	}
	d.subs.Store(&next)

	Logger.Debugf("subscription %d removed", s.id)
}
