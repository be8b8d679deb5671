/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events is the in-process fan-out bus between the domain
// services and the websocket layer. Publishers address delivery groups,
// subscribers hold one buffered subscription per connection.
package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/utils"
)

// ErrSlowConsumer terminates a subscription whose buffer overflowed on a
// frame that may not be dropped. The connection must resync by
// reconnecting.
var ErrSlowConsumer = errors.New("event subscriber is too slow")

var errBusClosed = errors.New("event bus closed")

var errSubscriptionClosed = errors.New("event subscription closed")

var droppedFrames = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: visible.MetricDroppedFrames,
		Help: "Number of periodic frames dropped on full subscriber buffers",
	},
	[]string{"type"},
)

// UserGroup addresses every live connection of one user acting in one
// role. The same account connected as the other role does not receive
// these events.
func UserGroup(userID int64, role string) string {
	return fmt.Sprintf("user:%v:%v", userID, role)
}

// SessionGroup addresses both parties of one work session.
func SessionGroup(sessionID string) string {
	return "session:" + sessionID
}

// Event is one typed payload fanned out to a delivery group. The payload
// is marshaled once per connection by the websocket writer.
type Event struct {
	// Type is the wire frame type, work_assigned, chat_message and so on.
	Type string
	// Payload is the frame body, anything the JSON encoder accepts.
	Payload interface{}
	// Lossy marks periodic frames, distance ticks and typing indicators,
	// that a slow subscriber may miss without losing correctness.
	Lossy bool
}

// Config holds bus options.
type Config struct {
	// Capacity is the per-subscription buffer size.
	Capacity int
}

// SetDefaults fills in missing options.
func (c *Config) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = defaults.WebsocketSendBuffer
	}
}

// Bus fans events out to group subscriptions. Delivery is best effort
// per subscriber: lossy events are dropped on overflow, lossless
// overflow fails the subscription so the connection can resync.
type Bus struct {
	cfg    Config
	mu     sync.RWMutex
	groups map[string]map[int64]*Subscription
	nextID int64
	closed bool
}

// NewBus allocates an event bus.
func NewBus(cfg Config) (*Bus, error) {
	cfg.SetDefaults()
	if err := utils.RegisterPrometheusCollectors(droppedFrames); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Bus{
		cfg:    cfg,
		groups: make(map[string]map[int64]*Subscription),
	}, nil
}

// Subscribe attaches a new subscription to a group. Subscriptions must
// be explicitly closed when finished.
func (b *Bus) Subscribe(group string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, trace.ConnectionProblem(errBusClosed, "event bus is closed")
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		group:  group,
		bus:    b,
		events: make(chan Event, b.cfg.Capacity),
		done:   make(chan struct{}),
	}
	if b.groups[group] == nil {
		b.groups[group] = make(map[int64]*Subscription)
	}
	b.groups[group][sub.id] = sub
	return sub, nil
}

// Publish sends the event to every live subscription of the group and
// returns how many buffers accepted it. Zero means nobody is listening.
func (b *Bus) Publish(group string, event Event) int {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.groups[group]))
	for _, sub := range b.groups[group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.events <- event:
			delivered++
		default:
			if event.Lossy {
				droppedFrames.WithLabelValues(event.Type).Inc()
				continue
			}
			sub.fail(ErrSlowConsumer)
		}
	}
	return delivered
}

// NumSubscribers reports the live subscription count of a group.
func (b *Bus) NumSubscribers(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Close fails every subscription and rejects further subscribes.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, group := range b.groups {
		for _, sub := range group {
			subs = append(subs, sub)
		}
	}
	b.groups = make(map[string]map[int64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fail(errBusClosed)
	}
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.groups[sub.group]
	if !ok {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(b.groups, sub.group)
	}
}

// Subscription is one receiver attached to a group.
type Subscription struct {
	id     int64
	group  string
	bus    *Bus
	events chan Event
	done   chan struct{}

	emux sync.Mutex
	once sync.Once
	err  error
}

// Events is the receive channel. Buffered events remain readable after
// the subscription is done.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription stops receiving new events.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Error explains why the subscription ended, nil while it is live.
func (s *Subscription) Error() error {
	s.emux.Lock()
	defer s.emux.Unlock()
	if s.err != nil {
		return s.err
	}
	select {
	case <-s.done:
		return errSubscriptionClosed
	default:
		return nil
	}
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() error {
	s.bus.remove(s)
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Subscription) fail(err error) {
	s.bus.remove(s)
	s.once.Do(func() {
		s.emux.Lock()
		s.err = err
		s.emux.Unlock()
		close(s.done)
	})
}
