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

package push

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/messaging"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
)

type fakeMessenger struct {
	sent      []*messaging.Message
	messageID string
	err       error
}

func (f *fakeMessenger) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.sent = append(f.sent, message)
	if f.err != nil {
		return "", f.err
	}
	return f.messageID, nil
}

type fixture struct {
	store      services.Store
	messenger  *fakeMessenger
	dispatcher *Dispatcher
	recipient  *services.User
}

func newFixture(t *testing.T, withToken bool) *fixture {
	store, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	user := &services.User{Mobile: "+919876500001", Role: services.RoleProvider, Verified: true}
	if withToken {
		token := "device-token-1"
		user.FCMToken = &token
	}
	recipient, err := store.CreateUser(context.Background(), user)
	require.NoError(t, err)

	messenger := &fakeMessenger{messageID: "projects/visible/messages/1"}
	dispatcher, err := New(context.Background(), Config{
		Messenger: messenger,
		Users:     store,
		Audit:     store,
	})
	require.NoError(t, err)
	return &fixture{store: store, messenger: messenger, dispatcher: dispatcher, recipient: recipient}
}

func TestSendSuccess(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	orderID := int64(12)
	sent, err := f.dispatcher.Send(ctx, Notification{
		Recipient:   f.recipient,
		Kind:        services.KindWorkAssigned,
		WorkOrderID: &orderID,
		Title:       "New work request",
		Body:        "Plumbing, 0.04 km away",
		Data:        map[string]string{"order_id": "12"},
	})
	require.NoError(t, err)
	require.True(t, sent)

	require.Len(t, f.messenger.sent, 1)
	message := f.messenger.sent[0]
	require.Equal(t, "device-token-1", message.Token)
	require.Equal(t, "New work request", message.Notification.Title)
	require.Equal(t, "work_assigned", message.Data["type"])
	require.Equal(t, "12", message.Data["order_id"])
}

func TestSendWithoutToken(t *testing.T) {
	f := newFixture(t, false)

	sent, err := f.dispatcher.Send(context.Background(), Notification{
		Recipient: f.recipient,
		Kind:      services.KindWorkAssigned,
		Title:     "New work request",
	})
	require.NoError(t, err)
	require.False(t, sent)
	require.Empty(t, f.messenger.sent)
}

func TestSendFailure(t *testing.T) {
	f := newFixture(t, true)
	f.messenger.err = errors.New("fcm unavailable")

	sent, err := f.dispatcher.Send(context.Background(), Notification{
		Recipient: f.recipient,
		Kind:      services.KindChatMessage,
		Title:     "New message",
	})
	require.Error(t, err)
	require.False(t, sent)

	// The token survives a transient failure.
	user, err := f.store.GetUser(context.Background(), f.recipient.ID)
	require.NoError(t, err)
	require.NotNil(t, user.FCMToken)
}

func TestSendClearsDeadToken(t *testing.T) {
	f := newFixture(t, true)
	f.messenger.err = errors.New("registration token not registered")

	restore := isTokenNotRegistered
	isTokenNotRegistered = func(error) bool { return true }
	defer func() { isTokenNotRegistered = restore }()

	sent, err := f.dispatcher.Send(context.Background(), Notification{
		Recipient: f.recipient,
		Kind:      services.KindWorkAccepted,
		Title:     "Request accepted",
	})
	require.Error(t, err)
	require.False(t, sent)

	user, err := f.store.GetUser(context.Background(), f.recipient.ID)
	require.NoError(t, err)
	require.Nil(t, user.FCMToken)
}

func TestConfigValidation(t *testing.T) {
	store, err := memory.New(memory.Config{})
	require.NoError(t, err)
	defer store.Close()

	_, err = New(context.Background(), Config{Users: store, Audit: store})
	require.Error(t, err, "credentials are required without an injected messenger")

	_, err = New(context.Background(), Config{Messenger: &fakeMessenger{}, Audit: store})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Messenger: &fakeMessenger{}, Users: store})
	require.Error(t, err)
}
