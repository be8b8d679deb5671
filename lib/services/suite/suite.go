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

// Package suite contains a store acceptance suite that is implementation
// independent, each store implementation runs it against itself.
package suite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// NewStoreFunc returns a fresh empty store for one subtest.
type NewStoreFunc func(t *testing.T) services.Store

// Run exercises the full services.Store contract against the given
// implementation.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		run  func(t *testing.T, store services.Store)
	}{
		{"UsersCRUD", testUsersCRUD},
		{"ProviderPresence", testProviderPresence},
		{"SeekerSearch", testSeekerSearch},
		{"WorkOrders", testWorkOrders},
		{"WorkOrderTransitions", testWorkOrderTransitions},
		{"Dashboard", testDashboard},
		{"Sessions", testSessions},
		{"Messages", testMessages},
		{"Retention", testRetention},
		{"Notifications", testNotifications},
		{"Categories", testCategories},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { require.NoError(t, store.Close()) })
			tt.run(t, store)
		})
	}
}

func newUser(t *testing.T, store services.Store, mobile string, role services.Role) *services.User {
	user, err := store.CreateUser(context.Background(), &services.User{
		Mobile: mobile, Role: role, Verified: true,
	})
	require.NoError(t, err)
	return user
}

func float(v float64) *float64 { return &v }

func testUsersCRUD(t *testing.T, store services.Store) {
	ctx := context.Background()

	created := newUser(t, store, "+919876500001", services.RoleSeeker)
	require.NotZero(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	_, err := store.CreateUser(ctx, &services.User{Mobile: "+919876500001", Role: services.RoleProvider})
	require.True(t, trace.IsAlreadyExists(err))

	got, err := store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Mobile, got.Mobile)
	assert.Equal(t, services.RoleSeeker, got.Role)

	got, err = store.GetUserByMobile(ctx, "+919876500001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.GetUser(ctx, 9999)
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, store.UpdateUserRole(ctx, created.ID, services.RoleProvider))
	got, err = store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, services.RoleProvider, got.Role)

	token := "fcm-token-1"
	require.NoError(t, store.UpdateFCMToken(ctx, created.ID, &token))
	got, err = store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FCMToken)
	assert.Equal(t, token, *got.FCMToken)

	require.NoError(t, store.UpdateFCMToken(ctx, created.ID, nil))
	got, err = store.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FCMToken)

	require.True(t, trace.IsNotFound(store.UpdateFCMToken(ctx, 9999, &token)))
}

func testProviderPresence(t *testing.T, store services.Store) {
	ctx := context.Background()
	provider := newUser(t, store, "+919876500002", services.RoleProvider)

	_, err := store.GetProviderPresence(ctx, provider.ID)
	require.True(t, trace.IsNotFound(err))

	presence := &services.ProviderPresence{
		UserID: provider.ID, Active: true,
		Lat: float(11.2590), Lng: float(75.8580),
		MainCatCode: "MS0001", SubCatCode: "SS0001",
	}
	require.NoError(t, store.UpsertProviderPresence(ctx, presence))

	got, err := store.GetProviderPresence(ctx, provider.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.Lat)
	assert.Equal(t, 11.2590, *got.Lat)

	active, err := store.ListActiveProviders(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Toggling off keeps the row but removes it from the active list.
	presence.Active = false
	require.NoError(t, store.UpsertProviderPresence(ctx, presence))
	active, err = store.ListActiveProviders(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	// Active presence without coordinates is rejected.
	err = store.UpsertProviderPresence(ctx, &services.ProviderPresence{
		UserID: provider.ID, Active: true, MainCatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.True(t, trace.IsBadParameter(err))
}

func testSeekerSearch(t *testing.T, store services.Store) {
	ctx := context.Background()
	seeker := newUser(t, store, "+919876500003", services.RoleSeeker)

	search := &services.SeekerSearch{
		UserID: seeker.ID, Searching: true,
		Lat: float(11.2588), Lng: float(75.8577),
		CatCode: "MS0001", SubCatCode: "SS0001", RadiusKm: 5,
	}
	require.NoError(t, store.UpsertSeekerSearch(ctx, search))

	got, err := store.GetSeekerSearch(ctx, seeker.ID)
	require.NoError(t, err)
	assert.True(t, got.Searching)
	assert.Equal(t, 5.0, got.RadiusKm)

	searching, err := store.ListSearchingSeekers(ctx)
	require.NoError(t, err)
	require.Len(t, searching, 1)

	require.NoError(t, store.SetSeekerSearching(ctx, seeker.ID, false))
	searching, err = store.ListSearchingSeekers(ctx)
	require.NoError(t, err)
	require.Empty(t, searching)

	require.True(t, trace.IsNotFound(store.SetSeekerSearching(ctx, 9999, true)))

	// Radius outside the band is rejected.
	err = store.UpsertSeekerSearch(ctx, &services.SeekerSearch{
		UserID: seeker.ID, Searching: true,
		Lat: float(11.0), Lng: float(75.0), CatCode: "MS0001", RadiusKm: 51,
	})
	require.True(t, trace.IsBadParameter(err))
}

func testWorkOrders(t *testing.T, store services.Store) {
	ctx := context.Background()
	seeker := newUser(t, store, "+919876500004", services.RoleSeeker)
	provider := newUser(t, store, "+919876500005", services.RoleProvider)

	order, err := store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID,
		ServiceType: "Plumbing", MainCatCode: "MS0001", SubCatCode: "SS0001",
		Message: "leaking tap",
	})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	assert.Equal(t, services.OrderPending, order.Status)

	// A second pending order for the same pair is rejected.
	_, err = store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.True(t, trace.IsAlreadyExists(err))

	got, err := store.GetWorkOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = store.GetWorkOrder(ctx, 9999)
	require.True(t, trace.IsNotFound(err))

	open, err := store.HasOpenWorkOrder(ctx, seeker.ID)
	require.NoError(t, err)
	assert.True(t, open)

	// Listing by either side and by status.
	orders, err := store.ListWorkOrders(ctx, services.WorkOrderFilter{SeekerID: seeker.ID})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	orders, err = store.ListWorkOrders(ctx, services.WorkOrderFilter{
		ProviderID: provider.ID, Status: services.OrderPending,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	orders, err = store.ListWorkOrders(ctx, services.WorkOrderFilter{
		ProviderID: provider.ID, Status: services.OrderAccepted,
	})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func testWorkOrderTransitions(t *testing.T, store services.Store) {
	ctx := context.Background()
	seeker := newUser(t, store, "+919876500006", services.RoleSeeker)
	provider := newUser(t, store, "+919876500007", services.RoleProvider)

	order, err := store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.TransitionWorkOrder(ctx, order.ID, services.OrderPending, services.OrderAccepted, at))

	got, err := store.GetWorkOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, services.OrderAccepted, got.Status)
	require.NotNil(t, got.ResponseTime)

	// Responding again hits the guard.
	err = store.TransitionWorkOrder(ctx, order.ID, services.OrderPending, services.OrderRejected, at)
	require.True(t, trace.IsCompareFailed(err))

	// Completion stamps completion_time.
	done := at.Add(time.Hour)
	require.NoError(t, store.TransitionWorkOrder(ctx, order.ID, services.OrderAccepted, services.OrderCompleted, done))
	got, err = store.GetWorkOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, services.OrderCompleted, got.Status)
	require.NotNil(t, got.CompletionTime)
	assert.Equal(t, done, got.CompletionTime.UTC())

	// Terminal orders never leave the open set.
	open, err := store.HasOpenWorkOrder(ctx, seeker.ID)
	require.NoError(t, err)
	assert.False(t, open)

	// The pair may start over once the old order is terminal.
	_, err = store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.NoError(t, err)
}

func testDashboard(t *testing.T, store services.Store) {
	ctx := context.Background()
	seeker := newUser(t, store, "+919876500008", services.RoleSeeker)
	provider := newUser(t, store, "+919876500009", services.RoleProvider)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.NoError(t, err)
	require.NoError(t, store.TransitionWorkOrder(ctx, first.ID, services.OrderPending, services.OrderAccepted, at))
	require.NoError(t, store.TransitionWorkOrder(ctx, first.ID, services.OrderAccepted, services.OrderCompleted, at))

	rating := 4
	require.NoError(t, store.CreateWorkSession(ctx, &services.WorkSession{
		ID: uuid.NewString(), WorkOrderID: first.ID,
		SeekerID: seeker.ID, ProviderID: provider.ID,
		State: services.SessionCompleted, Rating: &rating,
	}))

	second, err := store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.NoError(t, err)
	require.NoError(t, store.TransitionWorkOrder(ctx, second.ID, services.OrderPending, services.OrderRejected, at))

	dash, err := store.GetProviderDashboard(ctx, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dash.Completed)
	assert.Equal(t, int64(1), dash.Rejected)
	assert.Equal(t, int64(0), dash.Pending)
	require.NotNil(t, dash.AverageRating)
	assert.Equal(t, 4.0, *dash.AverageRating)
}

func testSessions(t *testing.T, store services.Store) {
	ctx := context.Background()
	seeker := newUser(t, store, "+919876500010", services.RoleSeeker)
	provider := newUser(t, store, "+919876500011", services.RoleProvider)

	order, err := store.CreateWorkOrder(ctx, &services.WorkOrder{
		SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
	})
	require.NoError(t, err)

	session := &services.WorkSession{
		ID: uuid.NewString(), WorkOrderID: order.ID,
		SeekerID: seeker.ID, ProviderID: provider.ID,
	}
	require.NoError(t, store.CreateWorkSession(ctx, session))

	// One session per order.
	err = store.CreateWorkSession(ctx, &services.WorkSession{
		ID: uuid.NewString(), WorkOrderID: order.ID,
		SeekerID: seeker.ID, ProviderID: provider.ID,
	})
	require.True(t, trace.IsAlreadyExists(err))

	got, err := store.GetWorkSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, services.SessionWaiting, got.State)
	assert.Equal(t, session.ID, got.ChatRoomID)

	got, err = store.GetWorkSessionByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = store.GetWorkSession(ctx, uuid.NewString())
	require.True(t, trace.IsNotFound(err))

	live, err := store.ListLiveWorkSessions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)

	// Full row update through the owning actor.
	got.State = services.SessionActive
	got.SeekerMediums = map[string]string{"call": "+919876500010"}
	require.NoError(t, store.UpdateWorkSession(ctx, got))

	reread, err := store.GetWorkSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, services.SessionActive, reread.State)
	assert.Equal(t, "+919876500010", reread.SeekerMediums["call"])

	// Terminal sessions drop out of the live listing.
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	reread.State = services.SessionCancelled
	reread.CancelledAt = &now
	reread.CancelledBy = &provider.ID
	require.NoError(t, store.UpdateWorkSession(ctx, reread))

	live, err = store.ListLiveWorkSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, live)
}

func testMessages(t *testing.T, store services.Store) {
	ctx := context.Background()
	sessionID := uuid.NewString()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &services.ChatMessage{
		ID: "00000000-0000-0000-0000-000000000001", SessionID: sessionID,
		SenderID: 1, SenderRole: services.RoleSeeker, Text: "hello",
		CreatedAt: base,
	}
	second := &services.ChatMessage{
		ID: "00000000-0000-0000-0000-000000000002", SessionID: sessionID,
		SenderID: 2, SenderRole: services.RoleProvider, Text: "hi",
		CreatedAt: base.Add(time.Second),
	}
	// Same timestamp as second, the id breaks the tie.
	third := &services.ChatMessage{
		ID: "00000000-0000-0000-0000-000000000003", SessionID: sessionID,
		SenderID: 1, SenderRole: services.RoleSeeker, Text: "there",
		CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, store.CreateChatMessage(ctx, second))
	require.NoError(t, store.CreateChatMessage(ctx, third))
	require.NoError(t, store.CreateChatMessage(ctx, first))

	messages, err := store.ListSessionMessages(ctx, sessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "hello", messages[0].Text)
	assert.Equal(t, "hi", messages[1].Text)
	assert.Equal(t, "there", messages[2].Text)

	// Limit keeps the most recent messages in ascending order.
	messages, err = store.ListSessionMessages(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[0].Text)

	// Receipt updates stamp the matching timestamp.
	at := base.Add(time.Minute)
	require.NoError(t, store.UpdateMessageStatus(ctx, first.ID, services.MessageDelivered, at))
	got, err := store.GetChatMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, services.MessageDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.ReadAt)

	require.NoError(t, store.UpdateMessageStatus(ctx, first.ID, services.MessageRead, at.Add(time.Second)))
	got, err = store.GetChatMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, services.MessageRead, got.Status)
	require.NotNil(t, got.ReadAt)

	require.NoError(t, store.UpsertTypingFlag(ctx, &services.TypingFlag{
		SessionID: sessionID, UserID: 1, Role: services.RoleSeeker,
		IsTyping: true, LastTypingAt: at,
	}))
}

func testRetention(t *testing.T, store services.Store) {
	ctx := context.Background()
	sessionID := uuid.NewString()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"one", "two"} {
		require.NoError(t, store.CreateChatMessage(ctx, &services.ChatMessage{
			ID: uuid.NewString(), SessionID: sessionID,
			SenderID: 1, SenderRole: services.RoleSeeker, Text: text,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	// A message of another session stays untouched.
	otherSession := uuid.NewString()
	require.NoError(t, store.CreateChatMessage(ctx, &services.ChatMessage{
		ID: uuid.NewString(), SessionID: otherSession,
		SenderID: 3, SenderRole: services.RoleSeeker, Text: "keep",
		CreatedAt: base,
	}))

	expiry := base.Add(24 * time.Hour)
	require.NoError(t, store.SetSessionMessageExpiry(ctx, sessionID, expiry))

	messages, err := store.ListSessionMessages(ctx, sessionID, 0)
	require.NoError(t, err)
	for _, m := range messages {
		require.NotNil(t, m.ExpiresAt)
		assert.Equal(t, expiry, m.ExpiresAt.UTC())
	}

	// Nothing is swept before the deadline, everything at it.
	swept, err := store.DeleteExpiredMessages(ctx, expiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, swept)

	swept, err = store.DeleteExpiredMessages(ctx, expiry)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)

	messages, err = store.ListSessionMessages(ctx, sessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)

	messages, err = store.ListSessionMessages(ctx, otherSession, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func testNotifications(t *testing.T, store services.Store) {
	ctx := context.Background()
	orderID := int64(42)

	n, err := store.CreateNotification(ctx, &services.NotificationLog{
		WorkOrderID: &orderID, RecipientID: 7,
		Kind: services.KindWorkAssigned, Transport: services.TransportPush,
	})
	require.NoError(t, err)
	require.NotZero(t, n.ID)
	assert.Equal(t, services.NotificationPending, n.Status)

	at := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkNotificationSent(ctx, n.ID, "fcm-msg-id-1", at))

	failed, err := store.CreateNotification(ctx, &services.NotificationLog{
		WorkOrderID: &orderID, RecipientID: 7,
		Kind: services.KindWorkAssigned, Transport: services.TransportWS,
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkNotificationFailed(ctx, failed.ID, "no live connection", at))

	require.True(t, trace.IsNotFound(store.MarkNotificationSent(ctx, 9999, "x", at)))
}

func testCategories(t *testing.T, store services.Store) {
	ctx := context.Background()

	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Empty(t, categories)

	require.NoError(t, store.SeedCategories(ctx, services.DefaultCategories()))
	// Seeding twice does not duplicate.
	require.NoError(t, store.SeedCategories(ctx, services.DefaultCategories()))

	categories, err = store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, len(services.DefaultCategories()))
	require.NotEmpty(t, categories[0].Subcategories)

	require.NoError(t, store.CategoryExists(ctx, "MS0001", "SS0001"))
	require.NoError(t, store.CategoryExists(ctx, "MS0001", ""))
	require.True(t, trace.IsNotFound(store.CategoryExists(ctx, "MS0001", "SS9999")))
	require.True(t, trace.IsNotFound(store.CategoryExists(ctx, "MS9999", "")))
}
