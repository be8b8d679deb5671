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

package work

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
)

type fakePush struct {
	sent []push.Notification
	fail bool
}

func (f *fakePush) Send(ctx context.Context, n push.Notification) (bool, error) {
	f.sent = append(f.sent, n)
	if f.fail {
		return false, trace.ConnectionProblem(nil, "fcm unavailable")
	}
	return true, nil
}

type fakeRegistry struct {
	created []string
}

func (f *fakeRegistry) CreateSession(ctx context.Context, session *services.WorkSession) error {
	f.created = append(f.created, session.ID)
	return nil
}

type fixture struct {
	clock    clockwork.FakeClock
	store    *memory.Store
	bus      *events.Bus
	push     *fakePush
	registry *fakeRegistry
	svc      *Service

	seeker   *services.User
	provider *services.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, store.SeedCategories(ctx, services.DefaultCategories()))
	bus, err := events.NewBus(events.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	presenceSvc, err := presence.New(ctx, presence.Config{
		Users: store, Presence: store, Categories: store, Bus: bus, Clock: clock,
	})
	require.NoError(t, err)

	sender := &fakePush{}
	svc, err := New(Config{
		Users: store, Orders: store, Sessions: store, Audit: store,
		Categories: store, Presence: presenceSvc, Bus: bus, Push: sender, Clock: clock,
	})
	require.NoError(t, err)
	registry := &fakeRegistry{}
	svc.SetSessionRegistry(registry)

	f := &fixture{
		clock: clock, store: store, bus: bus, push: sender,
		registry: registry, svc: svc,
	}

	name := "Asha"
	f.seeker, err = store.CreateUser(ctx, &services.User{Mobile: "+911000000010", Role: services.RoleSeeker, Name: &name})
	require.NoError(t, err)
	f.provider, err = store.CreateUser(ctx, &services.User{Mobile: "+911000000001", Role: services.RoleProvider})
	require.NoError(t, err)

	// The provider is online and offering plumbing, the seeker is
	// searching for it.
	_, err = presenceSvc.SetProviderActive(ctx, f.provider, presence.ProviderUpdate{
		Active: true, Lat: 11.2590, Lng: 75.8580, MainCatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.NoError(t, err)
	_, err = presenceSvc.SetSeekerSearch(ctx, f.seeker, presence.SeekerUpdate{
		Searching: true, Lat: 11.2588, Lng: 75.8577, RadiusKm: 5, CatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) subscribe(t *testing.T, userID int64, role services.Role) *events.Subscription {
	t.Helper()
	sub, err := f.bus.Subscribe(events.UserGroup(userID, string(role)))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func (f *fixture) assign(t *testing.T) *AssignResult {
	t.Helper()
	lat, lng := 11.2588, 75.8577
	result, err := f.svc.Assign(context.Background(), f.seeker, AssignRequest{
		ProviderID:  f.provider.ID,
		ServiceType: "Plumbing",
		MainCatCode: "MS0001",
		SubCatCode:  "SS0001",
		Message:     "Kitchen sink is leaking",
		SeekerLat:   &lat,
		SeekerLng:   &lng,
	})
	require.NoError(t, err)
	return result
}

func TestAssignDispatch(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.provider.ID, services.RoleProvider)

	result := f.assign(t)
	require.NotZero(t, result.OrderID)
	require.True(t, result.FCMSent)
	require.True(t, result.WSSent)

	order, err := f.store.GetWorkOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	require.Equal(t, services.OrderPending, order.Status)
	require.NotNil(t, order.CalculatedDistanceKm)
	require.InDelta(t, 0.04, *order.CalculatedDistanceKm, 0.001)

	select {
	case event := <-sub.Events():
		require.Equal(t, "work_assigned", event.Type)
		frame, ok := event.Payload.(AssignedFrame)
		require.True(t, ok, "payload is %T", event.Payload)
		require.Equal(t, result.OrderID, frame.OrderID)
		require.Equal(t, "Asha", frame.SeekerName)
		require.Equal(t, "Plumbing", frame.ServiceType)
		require.NotNil(t, frame.DistanceKm)
	default:
		t.Fatal("expected a work_assigned frame")
	}

	require.Len(t, f.push.sent, 1)
	n := f.push.sent[0]
	require.Equal(t, services.KindWorkAssigned, n.Kind)
	require.Equal(t, f.provider.ID, n.Recipient.ID)
	require.Equal(t, "Asha needs Plumbing", n.Body)
	require.NotEmpty(t, n.Data["order_id"])
}

func TestAssignDuplicatePending(t *testing.T) {
	f := newFixture(t)
	f.assign(t)

	_, err := f.svc.Assign(context.Background(), f.seeker, AssignRequest{
		ProviderID: f.provider.ID, ServiceType: "Plumbing", MainCatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.True(t, trace.IsAlreadyExists(err))
}

func TestAssignValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("provider cannot assign", func(t *testing.T) {
		_, err := f.svc.Assign(ctx, f.provider, AssignRequest{
			ProviderID: f.seeker.ID, ServiceType: "Plumbing", MainCatCode: "MS0001",
		})
		require.True(t, trace.IsAccessDenied(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := f.svc.Assign(ctx, f.seeker, AssignRequest{
			ProviderID: 9999, ServiceType: "Plumbing", MainCatCode: "MS0001",
		})
		require.True(t, trace.IsNotFound(err))
	})

	t.Run("target is not a provider", func(t *testing.T) {
		other, err := f.store.CreateUser(ctx, &services.User{Mobile: "+911000000011", Role: services.RoleSeeker})
		require.NoError(t, err)
		_, err = f.svc.Assign(ctx, f.seeker, AssignRequest{
			ProviderID: other.ID, ServiceType: "Plumbing", MainCatCode: "MS0001",
		})
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("provider never registered an offering", func(t *testing.T) {
		fresh, err := f.store.CreateUser(ctx, &services.User{Mobile: "+911000000002", Role: services.RoleProvider})
		require.NoError(t, err)
		_, err = f.svc.Assign(ctx, f.seeker, AssignRequest{
			ProviderID: fresh.ID, ServiceType: "Plumbing", MainCatCode: "MS0001",
		})
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("provider offers a different category", func(t *testing.T) {
		_, err := f.svc.Assign(ctx, f.seeker, AssignRequest{
			ProviderID: f.provider.ID, ServiceType: "Haircut", MainCatCode: "MS0002", SubCatCode: "SS0101",
		})
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := f.svc.Assign(ctx, f.seeker, AssignRequest{
			ProviderID: f.provider.ID, ServiceType: "Plumbing", MainCatCode: "MS9999",
		})
		require.True(t, trace.IsNotFound(err))
	})
}

func TestAssignSurvivesTransportFailures(t *testing.T) {
	f := newFixture(t)
	f.push.fail = true

	// No websocket subscriber and a failing push gateway, the order is
	// still durably created.
	result := f.assign(t)
	require.False(t, result.FCMSent)
	require.False(t, result.WSSent)

	order, err := f.store.GetWorkOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	require.Equal(t, services.OrderPending, order.Status)
}

func TestRespondAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.assign(t).OrderID
	f.push.sent = nil
	sub := f.subscribe(t, f.seeker.ID, services.RoleSeeker)

	result, err := f.svc.Respond(ctx, f.provider, orderID, true)
	require.NoError(t, err)
	require.True(t, result.WSSent)
	require.True(t, result.FCMSent)
	require.Equal(t, services.OrderAccepted, result.Order.Status)
	require.NotNil(t, result.Order.ResponseTime)

	require.NotNil(t, result.Session)
	require.Equal(t, services.SessionWaiting, result.Session.State)
	require.Equal(t, result.Session.ID, result.Session.ChatRoomID)

	stored, err := f.store.GetWorkSessionByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, result.Session.ID, stored.ID)
	require.Equal(t, []string{result.Session.ID}, f.registry.created)

	select {
	case event := <-sub.Events():
		require.Equal(t, "work_accepted", event.Type)
		frame, ok := event.Payload.(ResponseFrame)
		require.True(t, ok, "payload is %T", event.Payload)
		require.True(t, frame.Accepted)
		require.Equal(t, result.Session.ID, frame.SessionID)
	default:
		t.Fatal("expected a work_accepted frame")
	}

	require.Len(t, f.push.sent, 1)
	require.Equal(t, services.KindWorkAccepted, f.push.sent[0].Kind)
	require.Equal(t, f.seeker.ID, f.push.sent[0].Recipient.ID)

	// The matched seeker left the discovery pool.
	search, err := f.store.GetSeekerSearch(ctx, f.seeker.ID)
	require.NoError(t, err)
	require.False(t, search.Searching)
}

func TestRespondReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.assign(t).OrderID
	sub := f.subscribe(t, f.seeker.ID, services.RoleSeeker)

	result, err := f.svc.Respond(ctx, f.provider, orderID, false)
	require.NoError(t, err)
	require.Nil(t, result.Session)
	require.Equal(t, services.OrderRejected, result.Order.Status)

	_, err = f.store.GetWorkSessionByOrder(ctx, orderID)
	require.True(t, trace.IsNotFound(err))
	require.Empty(t, f.registry.created)

	select {
	case event := <-sub.Events():
		require.Equal(t, "work_response", event.Type)
		frame := event.Payload.(ResponseFrame)
		require.False(t, frame.Accepted)
		require.Empty(t, frame.SessionID)
	default:
		t.Fatal("expected a work_response frame")
	}

	// The seeker keeps searching after a rejection.
	search, err := f.store.GetSeekerSearch(ctx, f.seeker.ID)
	require.NoError(t, err)
	require.True(t, search.Searching)
}

func TestRespondGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.assign(t).OrderID

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.provider, 9999, true)
		require.True(t, trace.IsNotFound(err))
	})

	t.Run("wrong provider", func(t *testing.T) {
		other, err := f.store.CreateUser(ctx, &services.User{Mobile: "+911000000002", Role: services.RoleProvider})
		require.NoError(t, err)
		_, err = f.svc.Respond(ctx, other, orderID, true)
		require.True(t, trace.IsAccessDenied(err))
	})

	t.Run("double decision", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, f.provider, orderID, true)
		require.NoError(t, err)
		_, err = f.svc.Respond(ctx, f.provider, orderID, false)
		require.True(t, trace.IsCompareFailed(err))
	})
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.assign(t).OrderID

	// A second provider takes another order from the same seeker.
	second, err := f.store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: f.seeker.ID, ProviderID: f.provider.ID + 100,
		ServiceType: "Cleaning", MainCatCode: "MS0001", SubCatCode: "SS0003",
	})
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, f.seeker, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	theirs, err := f.svc.List(ctx, f.provider, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	require.Equal(t, first, theirs[0].ID)

	_, err = f.svc.Respond(ctx, f.provider, first, false)
	require.NoError(t, err)
	pending, err := f.svc.List(ctx, f.seeker, services.OrderPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)

	_, err = f.svc.List(ctx, f.seeker, services.WorkOrderStatus("bogus"), 0, 0)
	require.True(t, trace.IsBadParameter(err))
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.assign(t).OrderID
	_, err := f.svc.Respond(ctx, f.provider, orderID, true)
	require.NoError(t, err)

	dashboard, err := f.svc.Dashboard(ctx, f.provider)
	require.NoError(t, err)
	require.EqualValues(t, 1, dashboard.Accepted)
	require.EqualValues(t, 0, dashboard.Pending)

	_, err = f.svc.Dashboard(ctx, f.seeker)
	require.True(t, trace.IsAccessDenied(err))
}

func TestTerminalFlips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accepted := f.assign(t).OrderID
	_, err := f.svc.Respond(ctx, f.provider, accepted, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkCompleted(ctx, accepted))
	order, err := f.store.GetWorkOrder(ctx, accepted)
	require.NoError(t, err)
	require.Equal(t, services.OrderCompleted, order.Status)
	require.NotNil(t, order.CompletionTime)

	// Terminal orders do not flip again.
	require.True(t, trace.IsCompareFailed(f.svc.MarkCancelled(ctx, accepted)))
}
