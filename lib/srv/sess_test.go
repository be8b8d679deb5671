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

package srv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
)

type fakeOrders struct {
	cancelled []int64
	completed []int64
}

func (f *fakeOrders) MarkCancelled(ctx context.Context, orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeOrders) MarkCompleted(ctx context.Context, orderID int64) error {
	f.completed = append(f.completed, orderID)
	return nil
}

type searchToggle struct {
	userID    int64
	searching bool
}

type fakeSearch struct {
	toggles []searchToggle
}

func (f *fakeSearch) SetSearching(ctx context.Context, userID int64, searching bool) error {
	f.toggles = append(f.toggles, searchToggle{userID: userID, searching: searching})
	return nil
}

// fakePush is mutex guarded because chat push runs off the session
// goroutine.
type fakePush struct {
	mu   sync.Mutex
	sent []push.Notification
}

func (f *fakePush) Send(ctx context.Context, n push.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return true, nil
}

func (f *fakePush) notifications() []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.sent...)
}

type fixture struct {
	clock    clockwork.FakeClock
	store    *memory.Store
	bus      *events.Bus
	push     *fakePush
	orders   *fakeOrders
	search   *fakeSearch
	registry *Registry

	seeker   *services.User
	provider *services.User
	orderSeq int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	bus, err := events.NewBus(events.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	sender := &fakePush{}
	orders := &fakeOrders{}
	search := &fakeSearch{}
	registry, err := NewRegistry(Config{
		Users: store, Sessions: store, Messages: store,
		Orders: orders, Presence: search, Bus: bus, Push: sender, Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	f := &fixture{
		clock: clock, store: store, bus: bus, push: sender,
		orders: orders, search: search, registry: registry,
		orderSeq: 500,
	}
	name := "Asha"
	f.seeker, err = store.CreateUser(ctx, &services.User{Mobile: "+911000000010", Role: services.RoleSeeker, Name: &name})
	require.NoError(t, err)
	f.provider, err = store.CreateUser(ctx, &services.User{Mobile: "+911000000001", Role: services.RoleProvider})
	require.NoError(t, err)
	return f
}

func (f *fixture) nextOrderID() int64 {
	f.orderSeq++
	return f.orderSeq
}

func (f *fixture) sessionRow(state services.SessionState) *services.WorkSession {
	return &services.WorkSession{
		ID:          uuid.NewString(),
		WorkOrderID: f.nextOrderID(),
		SeekerID:    f.seeker.ID,
		ProviderID:  f.provider.ID,
		State:       state,
	}
}

func (f *fixture) startSession(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	row := f.sessionRow(services.SessionWaiting)
	require.NoError(t, f.store.CreateWorkSession(ctx, row))
	require.NoError(t, f.registry.CreateSession(ctx, row))
	sess, err := f.registry.FindSession(ctx, row.ID)
	require.NoError(t, err)
	return sess
}

// activate runs the seeker's medium selection, waiting turns active.
func (f *fixture) activate(t *testing.T, sess *Session) {
	t.Helper()
	_, err := sess.HandleMediums(context.Background(), f.seeker.ID, map[string]string{"call": "+911000000010"})
	require.NoError(t, err)
}

func (f *fixture) addUser(t *testing.T, mobile string, role services.Role) *services.User {
	t.Helper()
	user, err := f.store.CreateUser(context.Background(), &services.User{Mobile: mobile, Role: role})
	require.NoError(t, err)
	return user
}

func (f *fixture) subscribe(t *testing.T, userID int64, role services.Role) *events.Subscription {
	t.Helper()
	sub, err := f.bus.Subscribe(events.UserGroup(userID, string(role)))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func (f *fixture) subscribeSession(t *testing.T, sessionID string) *events.Subscription {
	t.Helper()
	sub, err := f.bus.Subscribe(events.SessionGroup(sessionID))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

// nextEvent pops an event that must already be buffered, ops publish
// before they return.
func nextEvent(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	default:
		t.Fatal("expected a buffered event")
		return events.Event{}
	}
}

// waitEvent blocks for an event published off the caller's goroutine,
// ticker broadcasts arrive asynchronously.
func waitEvent(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return events.Event{}
	}
}

func requireNoEvent(t *testing.T, sub *events.Subscription) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %v", event.Type)
	default:
	}
}

func TestMediumExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	seekerSub := f.subscribe(t, f.seeker.ID, services.RoleSeeker)

	// The provider cannot share before the seeker picked.
	_, err := sess.HandleMediums(ctx, f.provider.ID, map[string]string{"call": "+911000000001"})
	require.True(t, trace.IsCompareFailed(err))

	snap, err := sess.HandleMediums(ctx, f.seeker.ID, map[string]string{"call": "+911000000010", "whatsapp": "+911000000010"})
	require.NoError(t, err)
	require.Equal(t, services.SessionActive, snap.State)
	require.Equal(t, "+911000000010", snap.SeekerMediums["call"])
	require.NotNil(t, snap.MediumsSharedAt)
	requireNoEvent(t, seekerSub)

	snap, err = sess.HandleMediums(ctx, f.provider.ID, map[string]string{"telegram": "@asha_services"})
	require.NoError(t, err)
	require.Equal(t, "@asha_services", snap.ProviderMediums["telegram"])

	event := nextEvent(t, seekerSub)
	require.Equal(t, "provider_mediums_shared", event.Type)
	frame, ok := event.Payload.(MediumsFrame)
	require.True(t, ok)
	require.Equal(t, sess.ID(), frame.SessionID)
	require.Equal(t, "@asha_services", frame.Mediums["telegram"])

	row, err := f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.Equal(t, services.SessionActive, row.State)
	require.Equal(t, "+911000000010", row.SeekerMediums["whatsapp"])
	require.Equal(t, "@asha_services", row.ProviderMediums["telegram"])

	_, err = sess.HandleMediums(ctx, f.seeker.ID, nil)
	require.True(t, trace.IsBadParameter(err))
	_, err = sess.HandleMediums(ctx, f.seeker.ID, map[string]string{"carrier_pigeon": "coop 7"})
	require.True(t, trace.IsBadParameter(err))
	_, err = sess.HandleMediums(ctx, 12345, map[string]string{"call": "+910000000000"})
	require.True(t, trace.IsAccessDenied(err))
}

func TestDistanceStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	sessionSub := f.subscribeSession(t, sess.ID())
	f.activate(t, sess)

	require.True(t, trace.IsBadParameter(sess.HandleLocation(ctx, f.seeker.ID, 91, 75.8580)))

	// One located party is not a distance yet.
	require.NoError(t, sess.HandleLocation(ctx, f.provider.ID, 11.2590, 75.8580))
	requireNoEvent(t, sessionSub)

	// The second fix closes the pair, half a kilometer apart.
	require.NoError(t, sess.HandleLocation(ctx, f.seeker.ID, 11.2635, 75.8580))
	event := nextEvent(t, sessionSub)
	require.Equal(t, "distance_update", event.Type)
	require.True(t, event.Lossy)
	frame, ok := event.Payload.(DistanceFrame)
	require.True(t, ok)
	require.Equal(t, float64(500), frame.DistanceM)
	require.Equal(t, "500 meters away", frame.Distance)

	row, err := f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.NotNil(t, row.DistanceM)
	require.Equal(t, float64(500), *row.DistanceM)
	require.NotNil(t, row.SeekerLocAt)
	require.NotNil(t, row.LastDistanceAt)

	// The keep-alive tick re-broadcasts for stationary parties.
	f.clock.BlockUntil(1)
	f.clock.Advance(defaults.DistanceTickPeriod)
	event = waitEvent(t, sessionSub)
	require.Equal(t, "distance_update", event.Type)
	frame, ok = event.Payload.(DistanceFrame)
	require.True(t, ok)
	require.Equal(t, float64(500), frame.DistanceM)
	require.Equal(t, f.clock.Now().UTC(), frame.UpdatedAt)
}

func TestLocationNoiseFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	f.activate(t, sess)
	sessionSub := f.subscribeSession(t, sess.ID())

	require.NoError(t, sess.HandleLocation(ctx, f.provider.ID, 11.2590, 75.8580))
	require.NoError(t, sess.HandleLocation(ctx, f.seeker.ID, 11.2635, 75.8580))
	nextEvent(t, sessionSub)

	// A 30 meter wiggle is GPS jitter, nothing is stored or published.
	require.NoError(t, sess.HandleLocation(ctx, f.seeker.ID, 11.26377, 75.8580))
	requireNoEvent(t, sessionSub)
	row, err := f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.Equal(t, 11.2635, *row.SeekerLat)

	// 67 meters is real movement.
	require.NoError(t, sess.HandleLocation(ctx, f.seeker.ID, 11.2641, 75.8580))
	event := nextEvent(t, sessionSub)
	frame, ok := event.Payload.(DistanceFrame)
	require.True(t, ok)
	require.Equal(t, float64(567), frame.DistanceM)
	require.Equal(t, "567 meters away", frame.Distance)
	row, err = f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.Equal(t, 11.2641, *row.SeekerLat)
}

func TestChatReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	f.activate(t, sess)
	sessionSub := f.subscribeSession(t, sess.ID())
	seekerSub := f.subscribe(t, f.seeker.ID, services.RoleSeeker)

	msg, err := sess.HandleChat(ctx, f.seeker.ID, "hello")
	require.NoError(t, err)
	require.Equal(t, services.MessageSent, msg.Status)
	require.Equal(t, services.RoleSeeker, msg.SenderRole)

	chat := nextEvent(t, sessionSub)
	require.Equal(t, "chat_message", chat.Type)
	require.False(t, chat.Lossy)
	frame, ok := chat.Payload.(ChatFrame)
	require.True(t, ok)
	require.Equal(t, msg.ID, frame.MessageID)
	require.Equal(t, "hello", frame.Text)
	require.Equal(t, f.seeker.ID, frame.SenderID)

	echo := nextEvent(t, seekerSub)
	require.Equal(t, "message_sent", echo.Type)
	sent, ok := echo.Payload.(MessageSentFrame)
	require.True(t, ok)
	require.Equal(t, msg.ID, sent.MessageID)
	require.Equal(t, services.MessageSent, sent.Status)

	// The counterparty's device is notified off the session goroutine.
	require.Eventually(t, func() bool {
		return len(f.push.notifications()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	note := f.push.notifications()[0]
	require.Equal(t, services.KindChatMessage, note.Kind)
	require.Equal(t, f.provider.ID, note.Recipient.ID)
	require.Equal(t, "Asha", note.Title)
	require.Equal(t, "hello", note.Body)
	require.Equal(t, msg.ID, note.Data["message_id"])

	// Delivered then read, the seeker sees both receipts in order.
	require.NoError(t, sess.HandleAck(ctx, f.provider.ID, msg.ID, services.MessageDelivered))
	require.NoError(t, sess.HandleAck(ctx, f.provider.ID, msg.ID, services.MessageRead))

	update := nextEvent(t, seekerSub)
	require.Equal(t, "message_status_update", update.Type)
	status, ok := update.Payload.(StatusFrame)
	require.True(t, ok)
	require.Equal(t, msg.ID, status.MessageID)
	require.Equal(t, services.MessageDelivered, status.Status)

	update = nextEvent(t, seekerSub)
	status, ok = update.Payload.(StatusFrame)
	require.True(t, ok)
	require.Equal(t, services.MessageRead, status.Status)

	stored, err := f.store.GetChatMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, services.MessageRead, stored.Status)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.ReadAt)

	// Receipts never move back down the ladder.
	require.NoError(t, sess.HandleAck(ctx, f.provider.ID, msg.ID, services.MessageDelivered))
	requireNoEvent(t, seekerSub)
	stored, err = f.store.GetChatMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, services.MessageRead, stored.Status)
}

func TestChatMonotonicTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	f.activate(t, sess)

	// The clock is frozen, ordering falls back to the microsecond bump.
	first, err := sess.HandleChat(ctx, f.seeker.ID, "one")
	require.NoError(t, err)
	second, err := sess.HandleChat(ctx, f.provider.ID, "two")
	require.NoError(t, err)
	require.True(t, second.CreatedAt.After(first.CreatedAt))
	require.Equal(t, first.CreatedAt.Add(time.Microsecond), second.CreatedAt)

	messages, err := sess.History(ctx, f.seeker.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "one", messages[0].Text)
	require.Equal(t, "two", messages[1].Text)
}

func TestChatGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	// Chat and history require an active session.
	_, err := sess.HandleChat(ctx, f.seeker.ID, "too early")
	require.True(t, trace.IsCompareFailed(err))
	_, err = sess.History(ctx, f.seeker.ID, 10)
	require.True(t, trace.IsCompareFailed(err))

	f.activate(t, sess)

	_, err = sess.HandleChat(ctx, f.seeker.ID, "")
	require.True(t, trace.IsBadParameter(err))
	stranger := f.addUser(t, "+911000000099", services.RoleSeeker)
	_, err = sess.HandleChat(ctx, stranger.ID, "hi")
	require.True(t, trace.IsAccessDenied(err))

	msg, err := sess.HandleChat(ctx, f.seeker.ID, "hello")
	require.NoError(t, err)

	err = sess.HandleAck(ctx, f.provider.ID, msg.ID, services.MessageSent)
	require.True(t, trace.IsBadParameter(err))
	err = sess.HandleAck(ctx, f.seeker.ID, msg.ID, services.MessageDelivered)
	require.True(t, trace.IsAccessDenied(err))
	err = sess.HandleAck(ctx, f.provider.ID, "no-such-message", services.MessageDelivered)
	require.True(t, trace.IsNotFound(err))

	// A message from another session is invisible here.
	other := f.startSession(t)
	f.activate(t, other)
	foreign, err := other.HandleChat(ctx, f.provider.ID, "wrong room")
	require.NoError(t, err)
	err = sess.HandleAck(ctx, f.seeker.ID, foreign.ID, services.MessageDelivered)
	require.True(t, trace.IsNotFound(err))

	_, err = sess.History(ctx, stranger.ID, 10)
	require.True(t, trace.IsAccessDenied(err))
	messages, err := sess.History(ctx, f.provider.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestTypingIndicator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	err := sess.HandleTyping(ctx, f.provider.ID, true)
	require.True(t, trace.IsCompareFailed(err))

	f.activate(t, sess)
	seekerSub := f.subscribe(t, f.seeker.ID, services.RoleSeeker)

	require.NoError(t, sess.HandleTyping(ctx, f.provider.ID, true))
	event := nextEvent(t, seekerSub)
	require.Equal(t, "typing_indicator", event.Type)
	require.True(t, event.Lossy)
	frame, ok := event.Payload.(TypingFrame)
	require.True(t, ok)
	require.True(t, frame.IsTyping)
	require.Equal(t, f.provider.ID, frame.UserID)
	require.Equal(t, services.RoleProvider, frame.Role)

	require.NoError(t, sess.HandleTyping(ctx, f.provider.ID, false))
	event = nextEvent(t, seekerSub)
	frame, ok = event.Payload.(TypingFrame)
	require.True(t, ok)
	require.False(t, frame.IsTyping)
}

func TestCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	orderID := sess.Snapshot().WorkOrderID
	f.activate(t, sess)

	msg, err := sess.HandleChat(ctx, f.seeker.ID, "hello")
	require.NoError(t, err)

	sessionSub := f.subscribeSession(t, sess.ID())
	require.NoError(t, sess.Cancel(ctx, f.provider.ID))

	row, err := f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.Equal(t, services.SessionCancelled, row.State)
	require.NotNil(t, row.CancelledBy)
	require.Equal(t, f.provider.ID, *row.CancelledBy)
	require.NotNil(t, row.CancelledAt)

	// The parent order flips and the seeker re-enters the discovery pool.
	require.Equal(t, []int64{orderID}, f.orders.cancelled)
	require.Equal(t, []searchToggle{{userID: f.seeker.ID, searching: true}}, f.search.toggles)

	event := nextEvent(t, sessionSub)
	require.Equal(t, "connection_cancelled", event.Type)
	require.False(t, event.Lossy)
	frame, ok := event.Payload.(CancelledFrame)
	require.True(t, ok)
	require.Equal(t, f.provider.ID, frame.CancelledBy)

	// Chat enters its retention window.
	stored, err := f.store.GetChatMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	require.Equal(t, row.CancelledAt.Add(defaults.ChatRetention), *stored.ExpiresAt)

	// The actor is gone, late ops are refused and terminal sessions do
	// not rehydrate.
	require.Eventually(t, func() bool {
		return f.registry.NumSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, err = sess.HandleChat(ctx, f.seeker.ID, "too late")
	require.True(t, trace.IsCompareFailed(err))
	require.True(t, trace.IsCompareFailed(sess.Cancel(ctx, f.seeker.ID)))
	_, err = f.registry.FindSession(ctx, sess.ID())
	require.True(t, trace.IsCompareFailed(err))

	// The sweeper collects the history once the window passes.
	f.clock.Advance(defaults.ChatRetention)
	sweeper, err := NewSweeper(SweeperConfig{Messages: f.store, Clock: f.clock})
	require.NoError(t, err)
	sweepCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(sweepCtx) }()
	f.clock.BlockUntil(1)
	f.clock.Advance(defaults.RetentionSweepPeriod)
	require.Eventually(t, func() bool {
		_, err := f.store.GetChatMessage(context.Background(), msg.ID)
		return trace.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	require.NoError(t, <-done)
}

func TestCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)
	orderID := sess.Snapshot().WorkOrderID
	providerSub := f.subscribe(t, f.provider.ID, services.RoleProvider)

	// Seeker only, active only, rating on the 1..5 scale.
	require.True(t, trace.IsCompareFailed(sess.Complete(ctx, f.seeker.ID, nil)))
	f.activate(t, sess)
	require.True(t, trace.IsCompareFailed(sess.Complete(ctx, f.provider.ID, nil)))
	bad := 6
	require.True(t, trace.IsBadParameter(sess.Complete(ctx, f.seeker.ID, &bad)))

	rating := 5
	require.NoError(t, sess.Complete(ctx, f.seeker.ID, &rating))

	row, err := f.store.GetWorkSession(ctx, sess.ID())
	require.NoError(t, err)
	require.Equal(t, services.SessionCompleted, row.State)
	require.NotNil(t, row.CompletedAt)
	require.NotNil(t, row.Rating)
	require.Equal(t, 5, *row.Rating)

	require.Equal(t, []int64{orderID}, f.orders.completed)
	require.Empty(t, f.orders.cancelled)
	// Completion keeps the seeker's search paused.
	require.Empty(t, f.search.toggles)

	event := nextEvent(t, providerSub)
	require.Equal(t, "service_finished", event.Type)
	frame, ok := event.Payload.(FinishedFrame)
	require.True(t, ok)
	require.Equal(t, sess.ID(), frame.SessionID)
	require.NotNil(t, frame.Rating)
	require.Equal(t, 5, *frame.Rating)

	require.Eventually(t, func() bool {
		return f.registry.NumSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, err = sess.HandleChat(ctx, f.seeker.ID, "after the end")
	require.True(t, trace.IsCompareFailed(err))
}

func TestAttachPresence(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	providerSub := f.subscribe(t, f.provider.ID, services.RoleProvider)

	snap, err := sess.Attach(f.seeker.ID)
	require.NoError(t, err)
	require.Equal(t, services.SessionWaiting, snap.State)

	event := nextEvent(t, providerSub)
	require.Equal(t, "user_presence", event.Type)
	frame, ok := event.Payload.(PresenceFrame)
	require.True(t, ok)
	require.True(t, frame.Online)
	require.Equal(t, f.seeker.ID, frame.UserID)

	sess.Detach(f.seeker.ID)
	event = nextEvent(t, providerSub)
	frame, ok = event.Payload.(PresenceFrame)
	require.True(t, ok)
	require.False(t, frame.Online)

	_, err = sess.Attach(12345)
	require.True(t, trace.IsAccessDenied(err))
	requireNoEvent(t, providerSub)
}

func TestRegistryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A session persisted by another server comes alive on first touch.
	row := f.sessionRow(services.SessionActive)
	require.NoError(t, f.store.CreateWorkSession(ctx, row))
	require.Equal(t, 0, f.registry.NumSessions())
	sess, err := f.registry.FindSession(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.registry.NumSessions())

	again, err := f.registry.FindSession(ctx, row.ID)
	require.NoError(t, err)
	require.Same(t, sess, again)

	require.NoError(t, f.registry.CreateSession(ctx, row))
	require.Equal(t, 1, f.registry.NumSessions())

	// Unknown and terminal sessions have no actor.
	_, err = f.registry.FindSession(ctx, "no-such-session")
	require.True(t, trace.IsNotFound(err))
	done := f.sessionRow(services.SessionCancelled)
	require.NoError(t, f.store.CreateWorkSession(ctx, done))
	_, err = f.registry.FindSession(ctx, done.ID)
	require.True(t, trace.IsCompareFailed(err))

	// Rehydrate picks up live rows only.
	waiting := f.sessionRow(services.SessionWaiting)
	require.NoError(t, f.store.CreateWorkSession(ctx, waiting))
	require.NoError(t, f.registry.Rehydrate(ctx))
	require.Equal(t, 2, f.registry.NumSessions())

	// Close stops every actor and refuses new ones.
	f.registry.Close()
	require.True(t, trace.IsCompareFailed(f.registry.CreateSession(ctx, row)))
	err = sess.HandleLocation(ctx, f.seeker.ID, 11.2590, 75.8580)
	require.True(t, trace.IsCompareFailed(err))
	require.Eventually(t, func() bool {
		return f.registry.NumSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
