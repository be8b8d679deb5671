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

// Package memory implements the services.Store contract over plain maps.
// It backs tests and single node development setups, production uses
// services/mysql.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// Config holds in-memory store options.
type Config struct {
	// Clock is the time source, a fake clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults fills in the real clock.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// New returns an empty in-memory store.
func New(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		clock:          cfg.Clock,
		users:          make(map[int64]*services.User),
		usersByMobile:  make(map[string]int64),
		presence:       make(map[int64]*services.ProviderPresence),
		searches:       make(map[int64]*services.SeekerSearch),
		orders:         make(map[int64]*services.WorkOrder),
		sessions:       make(map[string]*services.WorkSession),
		sessionByOrder: make(map[int64]string),
		messages:       make(map[string]*services.ChatMessage),
		typing:         make(map[typingKey]*services.TypingFlag),
		notifications:  make(map[int64]*services.NotificationLog),
	}, nil
}

type typingKey struct {
	sessionID string
	userID    int64
}

// Store is the map backed implementation of services.Store. A single
// RWMutex guards all maps, values are cloned on the way in and out so
// callers never alias internal state.
type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	nextUserID  int64
	nextOrderID int64
	nextNotifID int64

	users          map[int64]*services.User
	usersByMobile  map[string]int64
	presence       map[int64]*services.ProviderPresence
	searches       map[int64]*services.SeekerSearch
	orders         map[int64]*services.WorkOrder
	sessions       map[string]*services.WorkSession
	sessionByOrder map[int64]string
	messages       map[string]*services.ChatMessage
	typing         map[typingKey]*services.TypingFlag
	notifications  map[int64]*services.NotificationLog
	categories     []services.Category
}

// Close implements services.Store.
func (s *Store) Close() error { return nil }

// CreateUser implements services.UserStore.
func (s *Store) CreateUser(ctx context.Context, user *services.User) (*services.User, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usersByMobile[user.Mobile]; taken {
		return nil, trace.AlreadyExists("user with mobile %v already exists", user.Mobile)
	}
	s.nextUserID++
	out := cloneUser(user)
	out.ID = s.nextUserID
	out.CreatedAt = s.clock.Now().UTC()
	s.users[out.ID] = out
	s.usersByMobile[out.Mobile] = out.ID
	return cloneUser(out), nil
}

// GetUser implements services.UserStore.
func (s *Store) GetUser(ctx context.Context, id int64) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, trace.NotFound("user %v is not found", id)
	}
	return cloneUser(user), nil
}

// GetUserByMobile implements services.UserStore.
func (s *Store) GetUserByMobile(ctx context.Context, mobile string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMobile[mobile]
	if !ok {
		return nil, trace.NotFound("user with mobile %v is not found", mobile)
	}
	return cloneUser(s.users[id]), nil
}

// UpdateUserRole implements services.UserStore.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role services.Role) error {
	if err := role.Validate(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return trace.NotFound("user %v is not found", id)
	}
	user.Role = role
	return nil
}

// UpdateFCMToken implements services.UserStore.
func (s *Store) UpdateFCMToken(ctx context.Context, id int64, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return trace.NotFound("user %v is not found", id)
	}
	user.FCMToken = cloneString(token)
	return nil
}

// UpsertProviderPresence implements services.PresenceStore.
func (s *Store) UpsertProviderPresence(ctx context.Context, presence *services.ProviderPresence) error {
	if err := presence.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[presence.UserID] = clonePresence(presence)
	return nil
}

// GetProviderPresence implements services.PresenceStore.
func (s *Store) GetProviderPresence(ctx context.Context, userID int64) (*services.ProviderPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	presence, ok := s.presence[userID]
	if !ok {
		return nil, trace.NotFound("provider presence for user %v is not found", userID)
	}
	return clonePresence(presence), nil
}

// ListActiveProviders implements services.PresenceStore.
func (s *Store) ListActiveProviders(ctx context.Context) ([]services.ProviderPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []services.ProviderPresence
	for _, p := range s.presence {
		if p.Active {
			out = append(out, *clonePresence(p))
		}
	}
	return out, nil
}

// UpsertSeekerSearch implements services.PresenceStore.
func (s *Store) UpsertSeekerSearch(ctx context.Context, search *services.SeekerSearch) error {
	if err := search.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[search.UserID] = cloneSearch(search)
	return nil
}

// GetSeekerSearch implements services.PresenceStore.
func (s *Store) GetSeekerSearch(ctx context.Context, userID int64) (*services.SeekerSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search, ok := s.searches[userID]
	if !ok {
		return nil, trace.NotFound("seeker search for user %v is not found", userID)
	}
	return cloneSearch(search), nil
}

// ListSearchingSeekers implements services.PresenceStore.
func (s *Store) ListSearchingSeekers(ctx context.Context) ([]services.SeekerSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []services.SeekerSearch
	for _, search := range s.searches {
		if search.Searching {
			out = append(out, *cloneSearch(search))
		}
	}
	return out, nil
}

// SetSeekerSearching implements services.PresenceStore.
func (s *Store) SetSeekerSearching(ctx context.Context, userID int64, searching bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[userID]
	if !ok {
		return trace.NotFound("seeker search for user %v is not found", userID)
	}
	search.Searching = searching
	now := s.clock.Now().UTC()
	search.LastSearchAt = &now
	return nil
}

// CreateWorkOrder implements services.WorkOrderStore.
func (s *Store) CreateWorkOrder(ctx context.Context, order *services.WorkOrder) (*services.WorkOrder, error) {
	if err := order.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.SeekerID == order.SeekerID &&
			existing.ProviderID == order.ProviderID &&
			existing.Status == services.OrderPending {
			return nil, trace.AlreadyExists(
				"a pending work order between seeker %v and provider %v already exists",
				order.SeekerID, order.ProviderID)
		}
	}
	s.nextOrderID++
	out := cloneOrder(order)
	out.ID = s.nextOrderID
	out.CreatedAt = s.clock.Now().UTC()
	s.orders[out.ID] = out
	return cloneOrder(out), nil
}

// GetWorkOrder implements services.WorkOrderStore.
func (s *Store) GetWorkOrder(ctx context.Context, id int64) (*services.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, trace.NotFound("work order %v is not found", id)
	}
	return cloneOrder(order), nil
}

// TransitionWorkOrder implements services.WorkOrderStore.
func (s *Store) TransitionWorkOrder(ctx context.Context, id int64, from, to services.WorkOrderStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return trace.BadParameter("work order cannot move from %v to %v", from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return trace.NotFound("work order %v is not found", id)
	}
	if order.Status != from {
		return trace.CompareFailed("work order %v is %v, not %v", id, order.Status, from)
	}
	order.Status = to
	stamp := at.UTC()
	switch to {
	case services.OrderAccepted, services.OrderRejected:
		order.ResponseTime = &stamp
	case services.OrderCompleted:
		order.CompletionTime = &stamp
	}
	return nil
}

// ListWorkOrders implements services.WorkOrderStore.
func (s *Store) ListWorkOrders(ctx context.Context, filter services.WorkOrderFilter) ([]services.WorkOrder, error) {
	s.mu.RLock()
	var matched []*services.WorkOrder
	for _, order := range s.orders {
		if filter.SeekerID != 0 && order.SeekerID != filter.SeekerID {
			continue
		}
		if filter.ProviderID != 0 && order.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matched = append(matched, order)
	}
	s.mu.RUnlock()

	// Newest first, mirrors the SQL ordering.
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.After(matched[b].CreatedAt)
		}
		return matched[a].ID > matched[b].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	out := make([]services.WorkOrder, 0, len(matched))
	for _, order := range matched {
		out = append(out, *cloneOrder(order))
	}
	return out, nil
}

// HasOpenWorkOrder implements services.WorkOrderStore.
func (s *Store) HasOpenWorkOrder(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, order := range s.orders {
		if order.SeekerID != userID && order.ProviderID != userID {
			continue
		}
		if order.Status == services.OrderPending || order.Status == services.OrderAccepted {
			return true, nil
		}
	}
	return false, nil
}

// GetProviderDashboard implements services.WorkOrderStore.
func (s *Store) GetProviderDashboard(ctx context.Context, providerID int64) (*services.ProviderDashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dash := &services.ProviderDashboard{}
	for _, order := range s.orders {
		if order.ProviderID != providerID {
			continue
		}
		switch order.Status {
		case services.OrderPending:
			dash.Pending++
		case services.OrderAccepted:
			dash.Accepted++
		case services.OrderCompleted:
			dash.Completed++
		case services.OrderRejected:
			dash.Rejected++
		case services.OrderCancelled:
			dash.Cancelled++
		}
	}
	var sum, count float64
	for _, session := range s.sessions {
		if session.ProviderID == providerID && session.Rating != nil {
			sum += float64(*session.Rating)
			count++
		}
	}
	if count > 0 {
		avg := sum / count
		dash.AverageRating = &avg
	}
	return dash, nil
}

// CreateWorkSession implements services.SessionStore.
func (s *Store) CreateWorkSession(ctx context.Context, session *services.WorkSession) error {
	if err := session.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return trace.AlreadyExists("work session %v already exists", session.ID)
	}
	if _, exists := s.sessionByOrder[session.WorkOrderID]; exists {
		return trace.AlreadyExists("work order %v already has a session", session.WorkOrderID)
	}
	stored := cloneSession(session)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.clock.Now().UTC()
	}
	s.sessions[stored.ID] = stored
	s.sessionByOrder[stored.WorkOrderID] = stored.ID
	return nil
}

// GetWorkSession implements services.SessionStore.
func (s *Store) GetWorkSession(ctx context.Context, id string) (*services.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, trace.NotFound("work session %v is not found", id)
	}
	return cloneSession(session), nil
}

// GetWorkSessionByOrder implements services.SessionStore.
func (s *Store) GetWorkSessionByOrder(ctx context.Context, orderID int64) (*services.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionByOrder[orderID]
	if !ok {
		return nil, trace.NotFound("work order %v has no session", orderID)
	}
	return cloneSession(s.sessions[id]), nil
}

// UpdateWorkSession implements services.SessionStore.
func (s *Store) UpdateWorkSession(ctx context.Context, session *services.WorkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return trace.NotFound("work session %v is not found", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// ListLiveWorkSessions implements services.SessionStore.
func (s *Store) ListLiveWorkSessions(ctx context.Context) ([]services.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []services.WorkSession
	for _, session := range s.sessions {
		if !session.State.IsTerminal() {
			out = append(out, *cloneSession(session))
		}
	}
	return out, nil
}

// CreateChatMessage implements services.MessageStore.
func (s *Store) CreateChatMessage(ctx context.Context, message *services.ChatMessage) error {
	if err := message.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[message.ID]; exists {
		return trace.AlreadyExists("chat message %v already exists", message.ID)
	}
	s.messages[message.ID] = cloneMessage(message)
	return nil
}

// GetChatMessage implements services.MessageStore.
func (s *Store) GetChatMessage(ctx context.Context, id string) (*services.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.messages[id]
	if !ok {
		return nil, trace.NotFound("chat message %v is not found", id)
	}
	return cloneMessage(message), nil
}

// UpdateMessageStatus implements services.MessageStore.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status services.MessageStatus, at time.Time) error {
	if err := status.Validate(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[id]
	if !ok {
		return trace.NotFound("chat message %v is not found", id)
	}
	message.Status = status
	stamp := at.UTC()
	switch status {
	case services.MessageDelivered:
		message.DeliveredAt = &stamp
	case services.MessageRead:
		message.ReadAt = &stamp
	}
	return nil
}

// ListSessionMessages implements services.MessageStore.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]services.ChatMessage, error) {
	s.mu.RLock()
	var matched []*services.ChatMessage
	for _, message := range s.messages {
		if message.SessionID == sessionID {
			matched = append(matched, message)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.Before(matched[b].CreatedAt)
		}
		return matched[a].ID < matched[b].ID
	})
	if limit > 0 && limit < len(matched) {
		matched = matched[len(matched)-limit:]
	}
	out := make([]services.ChatMessage, 0, len(matched))
	for _, message := range matched {
		out = append(out, *cloneMessage(message))
	}
	return out, nil
}

// SetSessionMessageExpiry implements services.MessageStore.
func (s *Store) SetSessionMessageExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	stamp := expiresAt.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range s.messages {
		if message.SessionID == sessionID {
			expiry := stamp
			message.ExpiresAt = &expiry
		}
	}
	return nil
}

// DeleteExpiredMessages implements services.MessageStore.
func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for id, message := range s.messages {
		if message.ExpiresAt != nil && !message.ExpiresAt.After(now) {
			delete(s.messages, id)
			swept++
		}
	}
	return swept, nil
}

// UpsertTypingFlag implements services.MessageStore.
func (s *Store) UpsertTypingFlag(ctx context.Context, flag *services.TypingFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *flag
	s.typing[typingKey{sessionID: flag.SessionID, userID: flag.UserID}] = &clone
	return nil
}

// CreateNotification implements services.NotificationStore.
func (s *Store) CreateNotification(ctx context.Context, n *services.NotificationLog) (*services.NotificationLog, error) {
	if err := n.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotifID++
	out := cloneNotification(n)
	out.ID = s.nextNotifID
	out.CreatedAt = s.clock.Now().UTC()
	s.notifications[out.ID] = out
	return cloneNotification(out), nil
}

// MarkNotificationSent implements services.NotificationStore.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64, externalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return trace.NotFound("notification %v is not found", id)
	}
	stamp := at.UTC()
	n.Status = services.NotificationSent
	n.ExternalID = &externalID
	n.SentAt = &stamp
	return nil
}

// MarkNotificationFailed implements services.NotificationStore.
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return trace.NotFound("notification %v is not found", id)
	}
	stamp := at.UTC()
	n.Status = services.NotificationFailed
	n.Error = &reason
	n.SentAt = &stamp
	return nil
}

// ListCategories implements services.CategoryStore.
func (s *Store) ListCategories(ctx context.Context) ([]services.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.Category, 0, len(s.categories))
	for _, c := range s.categories {
		clone := c
		clone.Subcategories = append([]services.Subcategory(nil), c.Subcategories...)
		out = append(out, clone)
	}
	return out, nil
}

// CategoryExists implements services.CategoryStore.
func (s *Store) CategoryExists(ctx context.Context, mainCode, subCode string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if c.Code != mainCode {
			continue
		}
		if subCode == "" {
			return nil
		}
		for _, sub := range c.Subcategories {
			if sub.Code == subCode {
				return nil
			}
		}
		return trace.NotFound("subcategory %v is not found under %v", subCode, mainCode)
	}
	return trace.NotFound("category %v is not found", mainCode)
}

// SeedCategories implements services.CategoryStore.
func (s *Store) SeedCategories(ctx context.Context, categories []services.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.categories) > 0 {
		return nil
	}
	for _, c := range categories {
		clone := c
		clone.Subcategories = append([]services.Subcategory(nil), c.Subcategories...)
		s.categories = append(s.categories, clone)
	}
	return nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUser(u *services.User) *services.User {
	out := *u
	out.Name = cloneString(u.Name)
	out.FCMToken = cloneString(u.FCMToken)
	return &out
}

func clonePresence(p *services.ProviderPresence) *services.ProviderPresence {
	out := *p
	out.Lat = cloneFloat(p.Lat)
	out.Lng = cloneFloat(p.Lng)
	out.LastActiveAt = cloneTime(p.LastActiveAt)
	return &out
}

func cloneSearch(s *services.SeekerSearch) *services.SeekerSearch {
	out := *s
	out.Lat = cloneFloat(s.Lat)
	out.Lng = cloneFloat(s.Lng)
	out.LastSearchAt = cloneTime(s.LastSearchAt)
	return &out
}

func cloneOrder(o *services.WorkOrder) *services.WorkOrder {
	out := *o
	out.Schedule = cloneString(o.Schedule)
	out.SeekerLat = cloneFloat(o.SeekerLat)
	out.SeekerLng = cloneFloat(o.SeekerLng)
	out.ProviderLat = cloneFloat(o.ProviderLat)
	out.ProviderLng = cloneFloat(o.ProviderLng)
	out.CalculatedDistanceKm = cloneFloat(o.CalculatedDistanceKm)
	out.ResponseTime = cloneTime(o.ResponseTime)
	out.CompletionTime = cloneTime(o.CompletionTime)
	return &out
}

func cloneSession(s *services.WorkSession) *services.WorkSession {
	out := *s
	out.ProviderLat = cloneFloat(s.ProviderLat)
	out.ProviderLng = cloneFloat(s.ProviderLng)
	out.ProviderLocAt = cloneTime(s.ProviderLocAt)
	out.SeekerLat = cloneFloat(s.SeekerLat)
	out.SeekerLng = cloneFloat(s.SeekerLng)
	out.SeekerLocAt = cloneTime(s.SeekerLocAt)
	out.DistanceM = cloneFloat(s.DistanceM)
	out.LastDistanceAt = cloneTime(s.LastDistanceAt)
	out.SeekerMediums = cloneStringMap(s.SeekerMediums)
	out.ProviderMediums = cloneStringMap(s.ProviderMediums)
	out.MediumsSharedAt = cloneTime(s.MediumsSharedAt)
	out.ChatStartedAt = cloneTime(s.ChatStartedAt)
	out.CancelledBy = cloneInt64(s.CancelledBy)
	out.CancelledAt = cloneTime(s.CancelledAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.Rating = cloneInt(s.Rating)
	return &out
}

func cloneMessage(m *services.ChatMessage) *services.ChatMessage {
	out := *m
	out.DeliveredAt = cloneTime(m.DeliveredAt)
	out.ReadAt = cloneTime(m.ReadAt)
	out.ExpiresAt = cloneTime(m.ExpiresAt)
	return &out
}

func cloneNotification(n *services.NotificationLog) *services.NotificationLog {
	out := *n
	out.WorkOrderID = cloneInt64(n.WorkOrderID)
	out.ExternalID = cloneString(n.ExternalID)
	out.Error = cloneString(n.Error)
	out.SentAt = cloneTime(n.SentAt)
	out.DeliveredAt = cloneTime(n.DeliveredAt)
	return &out
}
