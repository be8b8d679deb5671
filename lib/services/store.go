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

package services

import (
	"context"
	"time"
)

// UserStore persists accounts.
type UserStore interface {
	// CreateUser inserts a new user and returns it with the id set.
	CreateUser(ctx context.Context, user *User) (*User, error)
	// GetUser returns a user by id, trace.NotFound when missing.
	GetUser(ctx context.Context, id int64) (*User, error)
	// GetUserByMobile returns a user by mobile number.
	GetUserByMobile(ctx context.Context, mobile string) (*User, error)
	// UpdateUserRole switches the marketplace side of an account.
	UpdateUserRole(ctx context.Context, id int64, role Role) error
	// UpdateFCMToken stores or clears the mobile push token.
	UpdateFCMToken(ctx context.Context, id int64, token *string) error
}

// PresenceStore persists the provider and seeker discovery records.
type PresenceStore interface {
	UpsertProviderPresence(ctx context.Context, presence *ProviderPresence) error
	GetProviderPresence(ctx context.Context, userID int64) (*ProviderPresence, error)
	// ListActiveProviders returns every active presence row, used to
	// warm the in-memory geo index on startup.
	ListActiveProviders(ctx context.Context) ([]ProviderPresence, error)

	UpsertSeekerSearch(ctx context.Context, search *SeekerSearch) error
	GetSeekerSearch(ctx context.Context, userID int64) (*SeekerSearch, error)
	ListSearchingSeekers(ctx context.Context) ([]SeekerSearch, error)
	// SetSeekerSearching flips only the searching bit, session
	// side-effects use it to re-enable discovery after cancellation.
	SetSeekerSearching(ctx context.Context, userID int64, searching bool) error
}

// WorkOrderStore persists assignment requests.
type WorkOrderStore interface {
	// CreateWorkOrder inserts a pending order. It fails with
	// trace.AlreadyExists when a pending order for the same
	// (seeker, provider) pair exists.
	CreateWorkOrder(ctx context.Context, order *WorkOrder) (*WorkOrder, error)
	GetWorkOrder(ctx context.Context, id int64) (*WorkOrder, error)
	// TransitionWorkOrder flips status from exactly `from` to `to`,
	// stamping response or completion time as appropriate. It fails
	// with trace.CompareFailed when the row is not in `from` anymore.
	TransitionWorkOrder(ctx context.Context, id int64, from, to WorkOrderStatus, at time.Time) error
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]WorkOrder, error)
	// HasOpenWorkOrder reports whether the user is party to a pending
	// or accepted order, the role switch gate.
	HasOpenWorkOrder(ctx context.Context, userID int64) (bool, error)
	GetProviderDashboard(ctx context.Context, providerID int64) (*ProviderDashboard, error)
}

// SessionStore persists work sessions. Mutations go through the owning
// session actor, so updates are full row writes.
type SessionStore interface {
	CreateWorkSession(ctx context.Context, session *WorkSession) error
	GetWorkSession(ctx context.Context, id string) (*WorkSession, error)
	GetWorkSessionByOrder(ctx context.Context, orderID int64) (*WorkSession, error)
	UpdateWorkSession(ctx context.Context, session *WorkSession) error
	// ListLiveWorkSessions returns sessions in waiting or active state,
	// used to rehydrate the session registry on startup.
	ListLiveWorkSessions(ctx context.Context) ([]WorkSession, error)
}

// MessageStore persists session chat and typing state.
type MessageStore interface {
	CreateChatMessage(ctx context.Context, message *ChatMessage) error
	GetChatMessage(ctx context.Context, id string) (*ChatMessage, error)
	// UpdateMessageStatus sets the receipt state and stamps the
	// matching timestamp. Monotonicity is enforced by the caller.
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, at time.Time) error
	// ListSessionMessages returns up to limit messages ordered by
	// created_at, ties broken by id.
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	// SetSessionMessageExpiry stamps expires_at on every message of a
	// terminated session.
	SetSessionMessageExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error
	// DeleteExpiredMessages removes messages with expires_at <= now and
	// returns the number of rows swept.
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error)
	UpsertTypingFlag(ctx context.Context, flag *TypingFlag) error
}

// NotificationStore records the dispatch audit trail.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *NotificationLog) (*NotificationLog, error)
	MarkNotificationSent(ctx context.Context, id int64, externalID string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id int64, reason string, at time.Time) error
}

// CategoryStore reads the service catalog.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	// CategoryExists returns trace.NotFound unless mainCode exists and
	// subCode (when non empty) belongs to it.
	CategoryExists(ctx context.Context, mainCode, subCode string) error
	// SeedCategories inserts the default catalog when empty.
	SeedCategories(ctx context.Context, categories []Category) error
}

// Store bundles every repository the server needs.
type Store interface {
	UserStore
	PresenceStore
	WorkOrderStore
	SessionStore
	MessageStore
	NotificationStore
	CategoryStore
	// Close releases underlying resources.
	Close() error
}
