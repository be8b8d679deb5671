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

// Package srv drives live work sessions: the two-party state machine
// between order acceptance and completion, the location and chat streams
// inside it, and the retention sweep behind it. Every mutation of one
// session runs on that session's own goroutine, so the parties observe a
// single total order of state changes.
package srv

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/utils"
)

var (
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: visible.MetricLiveSessions,
			Help: "Number of live work sessions on this server",
		},
	)
	chatMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: visible.MetricChatMessages,
			Help: "Chat messages accepted by live sessions",
		},
	)
)

// OrderService flips the parent work order when a session terminates.
type OrderService interface {
	MarkCancelled(ctx context.Context, orderID int64) error
	MarkCompleted(ctx context.Context, orderID int64) error
}

// SearchControl re-enables the seeker's discovery search after a
// cancellation.
type SearchControl interface {
	SetSearching(ctx context.Context, userID int64, searching bool) error
}

// PushSender dispatches one mobile push notification.
type PushSender interface {
	Send(ctx context.Context, n push.Notification) (bool, error)
}

// Config holds session registry options.
type Config struct {
	// Users resolves party names and device tokens for chat push.
	Users services.UserStore
	// Sessions is the durable session repository.
	Sessions services.SessionStore
	// Messages persists chat and typing state.
	Messages services.MessageStore
	// Orders flips parent orders on terminal transitions.
	Orders OrderService
	// Presence restores the seeker search on cancellation.
	Presence SearchControl
	// Bus carries the session frames.
	Bus *events.Bus
	// Push is the FCM dispatcher, nil disables chat push.
	Push PushSender
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Sessions == nil {
		return trace.BadParameter("missing parameter Sessions")
	}
	if c.Messages == nil {
		return trace.BadParameter("missing parameter Messages")
	}
	if c.Orders == nil {
		return trace.BadParameter("missing parameter Orders")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Bus == nil {
		return trace.BadParameter("missing parameter Bus")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Registry holds every live session actor on this server. Sessions enter
// on order acceptance or lazily when a party attaches after a restart,
// and leave on terminal transitions.
type Registry struct {
	mu sync.Mutex

	log *log.Entry
	cfg Config

	sessions map[string]*Session
	closed   bool
}

// NewRegistry builds an empty session registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(liveSessions, chatMessages); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Registry{
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentSession,
		}),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// CreateSession starts the live actor for a freshly persisted session.
// It is idempotent on the session id.
func (r *Registry) CreateSession(ctx context.Context, row *services.WorkSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return trace.CompareFailed("session registry is closed")
	}
	if _, ok := r.sessions[row.ID]; ok {
		return nil
	}
	r.sessions[row.ID] = newSession(r, *row)
	r.log.WithField("session", row.ID).Info("Started a live session.")
	return nil
}

// FindSession returns the live actor for a session, loading it from the
// store when this server has not seen it yet. Terminal sessions have no
// actor to return.
func (r *Registry) FindSession(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return sess, nil
	}

	row, err := r.cfg.Sessions.GetWorkSession(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if row.State.IsTerminal() {
		return nil, trace.CompareFailed("session %v has ended", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, trace.CompareFailed("session registry is closed")
	}
	if sess, ok := r.sessions[id]; ok {
		return sess, nil
	}
	sess = newSession(r, *row)
	r.sessions[id] = sess
	r.log.WithField("session", id).Info("Rehydrated a live session.")
	return sess, nil
}

// Rehydrate loads every live session from the store, called once at
// startup so active sessions resume their distance tickers.
func (r *Registry) Rehydrate(ctx context.Context) error {
	rows, err := r.cfg.Sessions.ListLiveWorkSessions(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for i := range rows {
		if err := r.CreateSession(ctx, &rows[i]); err != nil {
			return trace.Wrap(err)
		}
	}
	r.log.WithField("sessions", len(rows)).Info("Rehydrated live sessions.")
	return nil
}

// NumSessions returns the count of live actors.
func (r *Registry) NumSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every live actor. Session rows are untouched, a restart
// rehydrates them.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, sess := range r.sessions {
		sess.close()
	}
	r.log.Debug("Closing the session registry.")
}

func (r *Registry) removeSession(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID()]; !ok {
		return
	}
	delete(r.sessions, sess.ID())
	liveSessions.Dec()
}
