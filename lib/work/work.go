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

// Package work owns the pre-session order lifecycle: a seeker assigns
// work to one provider, the provider takes a single decision while the
// order is pending, and acceptance produces the work session. Dispatch to
// the provider and back to the seeker rides both transports and every
// attempt is audited.
package work

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/geo"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// PresenceControl is the slice of the presence service orders need:
// offering checks and pausing the seeker search once a pair matches.
type PresenceControl interface {
	GetProviderPresence(ctx context.Context, providerID int64) (*services.ProviderPresence, error)
	SetSearching(ctx context.Context, userID int64, searching bool) error
}

// PushSender dispatches one mobile push notification.
type PushSender interface {
	Send(ctx context.Context, n push.Notification) (bool, error)
}

// SessionRegistry starts the live actor of a freshly accepted session.
// The registry also loads sessions lazily on gateway attach, so a nil
// registry only delays actor startup.
type SessionRegistry interface {
	CreateSession(ctx context.Context, session *services.WorkSession) error
}

// Config holds work order service options.
type Config struct {
	// Users resolves both parties.
	Users services.UserStore
	// Orders is the order repository.
	Orders services.WorkOrderStore
	// Sessions persists the session created on acceptance.
	Sessions services.SessionStore
	// Audit records websocket dispatch outcomes.
	Audit services.NotificationStore
	// Categories validates the requested service category.
	Categories services.CategoryStore
	// Presence checks offerings and pauses matched seekers.
	Presence PresenceControl
	// Bus carries the websocket frames.
	Bus *events.Bus
	// Push is the FCM dispatcher, nil disables mobile push.
	Push PushSender
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Orders == nil {
		return trace.BadParameter("missing parameter Orders")
	}
	if c.Sessions == nil {
		return trace.BadParameter("missing parameter Sessions")
	}
	if c.Audit == nil {
		return trace.BadParameter("missing parameter Audit")
	}
	if c.Categories == nil {
		return trace.BadParameter("missing parameter Categories")
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

// AssignRequest is a seeker's order submission.
type AssignRequest struct {
	ProviderID  int64    `json:"provider_id"`
	ServiceType string   `json:"service_type"`
	MainCatCode string   `json:"main_cat_code"`
	SubCatCode  string   `json:"sub_cat_code"`
	Message     string   `json:"message"`
	Schedule    *string  `json:"schedule,omitempty"`
	SeekerLat   *float64 `json:"seeker_lat,omitempty"`
	SeekerLng   *float64 `json:"seeker_lng,omitempty"`
}

// AssignResult reports the created order and how dispatch went. Dispatch
// failures do not fail the assignment, the order is durable either way.
type AssignResult struct {
	OrderID int64 `json:"order_id"`
	FCMSent bool  `json:"fcm_sent"`
	WSSent  bool  `json:"ws_sent"`
}

// RespondResult reports the decision outcome. Session is set on
// acceptance only.
type RespondResult struct {
	Order   *services.WorkOrder   `json:"order"`
	Session *services.WorkSession `json:"session,omitempty"`
	FCMSent bool                  `json:"fcm_sent"`
	WSSent  bool                  `json:"ws_sent"`
}

// AssignedFrame tells a provider a new order is waiting.
type AssignedFrame struct {
	Type        string    `json:"type"`
	OrderID     int64     `json:"order_id"`
	SeekerID    int64     `json:"seeker_id"`
	SeekerName  string    `json:"seeker_name"`
	ServiceType string    `json:"service_type"`
	MainCatCode string    `json:"main_cat_code"`
	SubCatCode  string    `json:"sub_cat_code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Schedule    *string   `json:"schedule,omitempty"`
	DistanceKm  *float64  `json:"distance_km,omitempty"`
	Distance    string    `json:"distance,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResponseFrame tells a seeker how the provider decided. Acceptance
// carries the session and chat room ids the client attaches to next.
type ResponseFrame struct {
	Type         string `json:"type"`
	OrderID      int64  `json:"order_id"`
	ProviderID   int64  `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	Accepted     bool   `json:"accepted"`
	SessionID    string `json:"session_id,omitempty"`
	ChatRoomID   string `json:"chat_room_id,omitempty"`
}

// Service runs the order lifecycle.
type Service struct {
	cfg Config
	log *log.Entry

	mu       sync.RWMutex
	registry SessionRegistry
}

// New builds the work order service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{
		cfg: cfg,
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentOrders,
		}),
	}, nil
}

// SetSessionRegistry wires the live session manager in. The registry is
// built after this service, composition calls back once both exist.
func (s *Service) SetSessionRegistry(registry SessionRegistry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = registry
}

func (s *Service) sessionRegistry() SessionRegistry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// Assign validates and persists a pending order, then notifies the
// provider over push and websocket. Transport failures are audited and
// swallowed, the assignment stands once the row exists.
func (s *Service) Assign(ctx context.Context, seeker *services.User, req AssignRequest) (*AssignResult, error) {
	if seeker.Role != services.RoleSeeker {
		return nil, trace.AccessDenied("only seekers can assign work")
	}
	if req.MainCatCode == "" {
		return nil, trace.BadParameter("missing parameter MainCatCode")
	}
	if err := s.cfg.Categories.CategoryExists(ctx, req.MainCatCode, req.SubCatCode); err != nil {
		return nil, trace.Wrap(err)
	}
	provider, err := s.cfg.Users.GetUser(ctx, req.ProviderID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if provider.Role != services.RoleProvider {
		return nil, trace.BadParameter("user %v is not a provider", provider.ID)
	}

	presence, err := s.cfg.Presence.GetProviderPresence(ctx, provider.ID)
	if err != nil {
		if !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		return nil, trace.BadParameter("provider %v does not offer %v services", provider.ID, req.MainCatCode)
	}
	if presence.MainCatCode != req.MainCatCode || (req.SubCatCode != "" && presence.SubCatCode != req.SubCatCode) {
		return nil, trace.BadParameter("provider %v does not offer %v services", provider.ID, req.MainCatCode)
	}

	order := &services.WorkOrder{
		SeekerID:    seeker.ID,
		ProviderID:  provider.ID,
		ServiceType: req.ServiceType,
		MainCatCode: req.MainCatCode,
		SubCatCode:  req.SubCatCode,
		Message:     req.Message,
		Schedule:    req.Schedule,
		SeekerLat:   req.SeekerLat,
		SeekerLng:   req.SeekerLng,
		Status:      services.OrderPending,
	}
	if presence.Lat != nil && presence.Lng != nil {
		order.ProviderLat, order.ProviderLng = presence.Lat, presence.Lng
		if req.SeekerLat != nil && req.SeekerLng != nil {
			km := geo.RoundKm(geo.Haversine(*req.SeekerLat, *req.SeekerLng, *presence.Lat, *presence.Lng))
			order.CalculatedDistanceKm = &km
		}
	}
	order, err = s.cfg.Orders.CreateWorkOrder(ctx, order)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.WithFields(log.Fields{
		"order":    order.ID,
		"seeker":   seeker.ID,
		"provider": provider.ID,
	}).Info("Created a work order.")

	frame := AssignedFrame{
		Type:        "work_assigned",
		OrderID:     order.ID,
		SeekerID:    seeker.ID,
		SeekerName:  seeker.DisplayName(),
		ServiceType: order.ServiceType,
		MainCatCode: order.MainCatCode,
		SubCatCode:  order.SubCatCode,
		Message:     order.Message,
		Schedule:    order.Schedule,
		DistanceKm:  order.CalculatedDistanceKm,
		CreatedAt:   order.CreatedAt,
	}
	if order.CalculatedDistanceKm != nil {
		frame.Distance = geo.FormatDistance(*order.CalculatedDistanceKm * 1000)
	}
	wsSent := s.publishAudited(ctx, provider.ID, services.RoleProvider, order.ID, services.KindWorkAssigned, events.Event{
		Type:    "work_assigned",
		Payload: frame,
	})

	data := map[string]string{
		"order_id":     strconv.FormatInt(order.ID, 10),
		"seeker_name":  frame.SeekerName,
		"service_type": order.ServiceType,
	}
	if frame.Distance != "" {
		data["distance"] = frame.Distance
	}
	fcmSent := s.sendPush(ctx, push.Notification{
		Recipient:   provider,
		Kind:        services.KindWorkAssigned,
		WorkOrderID: &order.ID,
		Title:       "New work request",
		Body:        frame.SeekerName + " needs " + order.ServiceType,
		Data:        data,
	})

	return &AssignResult{OrderID: order.ID, FCMSent: fcmSent, WSSent: wsSent}, nil
}

// Respond records the provider's single decision on a pending order.
// Acceptance creates the work session, this is the only place sessions
// come from.
func (s *Service) Respond(ctx context.Context, provider *services.User, orderID int64, accepted bool) (*RespondResult, error) {
	order, err := s.cfg.Orders.GetWorkOrder(ctx, orderID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if order.ProviderID != provider.ID {
		return nil, trace.AccessDenied("work order %v is not addressed to user %v", orderID, provider.ID)
	}

	to := services.OrderRejected
	if accepted {
		to = services.OrderAccepted
	}
	now := s.cfg.Clock.Now().UTC()
	if err := s.cfg.Orders.TransitionWorkOrder(ctx, orderID, services.OrderPending, to, now); err != nil {
		return nil, trace.Wrap(err)
	}
	order.Status = to
	order.ResponseTime = &now

	var session *services.WorkSession
	if accepted {
		session = &services.WorkSession{
			ID:          uuid.NewString(),
			WorkOrderID: order.ID,
			SeekerID:    order.SeekerID,
			ProviderID:  order.ProviderID,
			State:       services.SessionWaiting,
		}
		session.ChatRoomID = session.ID
		if err := s.cfg.Sessions.CreateWorkSession(ctx, session); err != nil {
			return nil, trace.Wrap(err)
		}
		if registry := s.sessionRegistry(); registry != nil {
			if err := registry.CreateSession(ctx, session); err != nil {
				s.log.WithError(err).WithField("session", session.ID).Warn("Failed to start the live session actor.")
			}
		}
		// The matched seeker leaves the discovery pool.
		if err := s.cfg.Presence.SetSearching(ctx, order.SeekerID, false); err != nil {
			s.log.WithError(err).WithField("seeker", order.SeekerID).Warn("Failed to pause the seeker search.")
		}
	}
	s.log.WithFields(log.Fields{
		"order":    order.ID,
		"provider": provider.ID,
		"accepted": accepted,
	}).Info("Recorded the provider decision.")

	frameType := "work_response"
	kind := services.KindWorkRejected
	if accepted {
		frameType = "work_accepted"
		kind = services.KindWorkAccepted
	}
	frame := ResponseFrame{
		Type:         frameType,
		OrderID:      order.ID,
		ProviderID:   provider.ID,
		ProviderName: provider.DisplayName(),
		Accepted:     accepted,
	}
	if session != nil {
		frame.SessionID = session.ID
		frame.ChatRoomID = session.ChatRoomID
	}
	wsSent := s.publishAudited(ctx, order.SeekerID, services.RoleSeeker, order.ID, kind, events.Event{
		Type:    frameType,
		Payload: frame,
	})

	fcmSent := false
	seeker, err := s.cfg.Users.GetUser(ctx, order.SeekerID)
	if err != nil {
		s.log.WithError(err).WithField("seeker", order.SeekerID).Warn("Failed to resolve the push recipient.")
	} else {
		title, body := "Request declined", frame.ProviderName+" declined your request"
		if accepted {
			title, body = "Request accepted", frame.ProviderName+" accepted your request"
		}
		data := map[string]string{"order_id": strconv.FormatInt(order.ID, 10)}
		if session != nil {
			data["session_id"] = session.ID
		}
		fcmSent = s.sendPush(ctx, push.Notification{
			Recipient:   seeker,
			Kind:        kind,
			WorkOrderID: &order.ID,
			Title:       title,
			Body:        body,
			Data:        data,
		})
	}

	return &RespondResult{Order: order, Session: session, FCMSent: fcmSent, WSSent: wsSent}, nil
}

// List pages through the caller's orders, newest first. Admins see every
// side.
func (s *Service) List(ctx context.Context, user *services.User, status services.WorkOrderStatus, limit, offset int) ([]services.WorkOrder, error) {
	filter := services.WorkOrderFilter{Status: status, Limit: limit, Offset: offset}
	if status != "" {
		if err := status.Validate(); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	switch user.Role {
	case services.RoleSeeker:
		filter.SeekerID = user.ID
	case services.RoleProvider:
		filter.ProviderID = user.ID
	}
	orders, err := s.cfg.Orders.ListWorkOrders(ctx, filter)
	return orders, trace.Wrap(err)
}

// Dashboard aggregates a provider's order history and rating average.
func (s *Service) Dashboard(ctx context.Context, user *services.User) (*services.ProviderDashboard, error) {
	if user.Role != services.RoleProvider {
		return nil, trace.AccessDenied("only providers have a dashboard")
	}
	dashboard, err := s.cfg.Orders.GetProviderDashboard(ctx, user.ID)
	return dashboard, trace.Wrap(err)
}

// MarkCancelled flips an accepted order to cancelled, the session manager
// calls it on session cancellation.
func (s *Service) MarkCancelled(ctx context.Context, orderID int64) error {
	err := s.cfg.Orders.TransitionWorkOrder(ctx, orderID,
		services.OrderAccepted, services.OrderCancelled, s.cfg.Clock.Now().UTC())
	return trace.Wrap(err)
}

// MarkCompleted flips an accepted order to completed with a completion
// time, the session manager calls it on seeker completion.
func (s *Service) MarkCompleted(ctx context.Context, orderID int64) error {
	err := s.cfg.Orders.TransitionWorkOrder(ctx, orderID,
		services.OrderAccepted, services.OrderCompleted, s.cfg.Clock.Now().UTC())
	return trace.Wrap(err)
}

// publishAudited sends one frame to a user group and records the outcome
// in the notification audit trail. Zero live subscribers is a delivery
// failure, the client catches up over push or on reconnect.
func (s *Service) publishAudited(ctx context.Context, recipientID int64, role services.Role, orderID int64, kind services.NotificationKind, event events.Event) bool {
	audit, err := s.cfg.Audit.CreateNotification(ctx, &services.NotificationLog{
		WorkOrderID: &orderID,
		RecipientID: recipientID,
		Kind:        kind,
		Transport:   services.TransportWS,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to record a websocket dispatch.")
		audit = nil
	}
	delivered := s.cfg.Bus.Publish(events.UserGroup(recipientID, string(role)), event)
	if audit != nil {
		now := s.cfg.Clock.Now().UTC()
		if delivered > 0 {
			err = s.cfg.Audit.MarkNotificationSent(ctx, audit.ID, "", now)
		} else {
			err = s.cfg.Audit.MarkNotificationFailed(ctx, audit.ID, "no live websocket connection", now)
		}
		if err != nil {
			s.log.WithError(err).Warn("Failed to update a websocket dispatch record.")
		}
	}
	return delivered > 0
}

// sendPush dispatches one notification, a missing dispatcher or a send
// error only costs the fcm_sent flag.
func (s *Service) sendPush(ctx context.Context, n push.Notification) bool {
	if s.cfg.Push == nil {
		return false
	}
	sent, err := s.cfg.Push.Send(ctx, n)
	if err != nil {
		s.log.WithError(err).WithField("recipient", n.Recipient.ID).Warn("Push dispatch failed.")
	}
	return sent
}
