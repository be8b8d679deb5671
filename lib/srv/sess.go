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
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/geo"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// chatPreviewRunes caps the push notification body length.
const chatPreviewRunes = 120

// DistanceFrame is the proximity report both parties receive, published
// on movement and on the periodic keep-alive tick.
type DistanceFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	DistanceM float64   `json:"distance_m"`
	Distance  string    `json:"distance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediumsFrame forwards the provider's contact medium share to the
// seeker.
type MediumsFrame struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Mediums   map[string]string `json:"mediums"`
}

// ChatReadyFrame announces the chat room to both parties.
type ChatReadyFrame struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	ChatRoomID string    `json:"chat_room_id"`
	StartedAt  time.Time `json:"started_at"`
}

// ChatFrame is one chat line fanned out to the session.
type ChatFrame struct {
	Type       string                 `json:"type"`
	SessionID  string                 `json:"session_id"`
	MessageID  string                 `json:"message_id"`
	SenderID   int64                  `json:"sender_id"`
	SenderRole services.Role          `json:"sender_role"`
	Text       string                 `json:"text"`
	Status     services.MessageStatus `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}

// MessageSentFrame is the sender's persistence echo carrying the
// allocated message id.
type MessageSentFrame struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	MessageID string                 `json:"message_id"`
	Status    services.MessageStatus `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
}

// StatusFrame reports a receipt upgrade to the original sender.
type StatusFrame struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	MessageID string                 `json:"message_id"`
	Status    services.MessageStatus `json:"status"`
	At        time.Time              `json:"at"`
}

// TypingFrame is the volatile typing indicator for the counterparty.
type TypingFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	UserID    int64         `json:"user_id"`
	Role      services.Role `json:"role"`
	IsTyping  bool          `json:"is_typing"`
}

// CancelledFrame tells both parties the session ended early. The gateway
// closes work sockets after writing it.
type CancelledFrame struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	CancelledBy int64     `json:"cancelled_by"`
	At          time.Time `json:"cancelled_at"`
}

// FinishedFrame tells the provider the seeker completed the service.
type FinishedFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Rating    *int      `json:"rating,omitempty"`
	At        time.Time `json:"completed_at"`
}

// PresenceFrame tells a party the counterparty attached or detached.
type PresenceFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Online    bool   `json:"online"`
}

// Session is one live work session actor. Every mutation runs on the
// session's own goroutine through the ops channel, so both parties
// observe a single total order of state changes. The mirrored row under
// mu lets snapshot readers skip both the store and the op queue.
type Session struct {
	id       string
	registry *Registry
	log      *log.Entry

	mu  sync.RWMutex
	row services.WorkSession

	ops       chan func()
	closeC    chan struct{}
	closeOnce sync.Once

	// lastMessageAt keeps chat timestamps strictly monotonic inside the
	// session even when the clock stalls.
	lastMessageAt time.Time
}

func newSession(r *Registry, row services.WorkSession) *Session {
	s := &Session{
		id:       row.ID,
		registry: r,
		log:      r.log.WithField("session", row.ID),
		row:      row,
		ops:      make(chan func()),
		closeC:   make(chan struct{}),
	}
	liveSessions.Inc()
	go s.loop()
	return s
}

// ID returns the immutable session id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the session row safe to hand out.
func (s *Session) Snapshot() services.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.row
	row.SeekerMediums = cloneMediums(row.SeekerMediums)
	row.ProviderMediums = cloneMediums(row.ProviderMediums)
	return row
}

func (s *Session) setRow(row services.WorkSession) {
	s.mu.Lock()
	s.row = row
	s.mu.Unlock()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closeC)
	})
}

// loop owns the session state. It runs ops one at a time and drives the
// periodic distance broadcast until the session closes.
func (s *Session) loop() {
	defer s.registry.removeSession(s)
	ticker := s.registry.cfg.Clock.NewTicker(defaults.DistanceTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case op := <-s.ops:
			op()
		case <-ticker.Chan():
			s.broadcastDistance()
		case <-s.closeC:
			return
		}
	}
}

// do runs op on the session goroutine and waits for its result. Ended
// sessions refuse new ops.
func (s *Session) do(ctx context.Context, op func() error) error {
	errC := make(chan error, 1)
	select {
	case s.ops <- func() { errC <- op() }:
	case <-s.closeC:
		return trace.CompareFailed("session %v has ended", s.id)
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

// HandleLocation ingests one party's location fix. Fixes that moved less
// than the noise floor from the party's last stored point are dropped
// without a write or a frame.
func (s *Session) HandleLocation(ctx context.Context, userID int64, lat, lng float64) error {
	if err := geo.ValidateCoords(lat, lng); err != nil {
		return trace.Wrap(err)
	}
	return s.do(ctx, func() error {
		role, err := s.row.PartyRole(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		if s.row.State.IsTerminal() {
			return trace.CompareFailed("session %v has ended", s.id)
		}
		row := s.row
		prevLat, prevLng := row.SeekerLat, row.SeekerLng
		if role == services.RoleProvider {
			prevLat, prevLng = row.ProviderLat, row.ProviderLng
		}
		if prevLat != nil && prevLng != nil &&
			geo.HaversineMeters(*prevLat, *prevLng, lat, lng) < defaults.MovementNoiseFloorMeters {
			return nil
		}
		now := s.registry.cfg.Clock.Now().UTC()
		if role == services.RoleSeeker {
			row.SeekerLat, row.SeekerLng, row.SeekerLocAt = &lat, &lng, &now
		} else {
			row.ProviderLat, row.ProviderLng, row.ProviderLocAt = &lat, &lng, &now
		}
		meters, ok := sessionDistance(row)
		if ok {
			row.DistanceM, row.LastDistanceAt = &meters, &now
		}
		if err := s.registry.cfg.Sessions.UpdateWorkSession(ctx, &row); err != nil {
			return trace.Wrap(err)
		}
		s.setRow(row)
		if ok {
			s.publishDistance(meters, now)
		}
		return nil
	})
}

// broadcastDistance is the periodic keep-alive so stationary clients
// still see the proximity number. Runs on the loop goroutine.
func (s *Session) broadcastDistance() {
	if s.row.State != services.SessionActive {
		return
	}
	meters, ok := sessionDistance(s.row)
	if !ok {
		return
	}
	s.publishDistance(meters, s.registry.cfg.Clock.Now().UTC())
}

func (s *Session) publishDistance(meters float64, at time.Time) {
	s.registry.cfg.Bus.Publish(events.SessionGroup(s.id), events.Event{
		Type:  "distance_update",
		Lossy: true,
		Payload: DistanceFrame{
			Type:      "distance_update",
			SessionID: s.id,
			DistanceM: meters,
			Distance:  geo.FormatDistance(meters),
			UpdatedAt: at,
		},
	})
}

// HandleMediums stores one party's contact medium selection. The seeker
// selects first and flips the session active, the provider's share is
// forwarded to the seeker.
func (s *Session) HandleMediums(ctx context.Context, userID int64, mediums map[string]string) (*services.WorkSession, error) {
	if len(mediums) == 0 {
		return nil, trace.BadParameter("medium selection cannot be empty")
	}
	if err := services.ValidateMediums(mediums); err != nil {
		return nil, trace.Wrap(err)
	}
	var snapshot services.WorkSession
	err := s.do(ctx, func() error {
		role, err := s.row.PartyRole(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		if s.row.State.IsTerminal() {
			return trace.CompareFailed("session %v has ended", s.id)
		}
		now := s.registry.cfg.Clock.Now().UTC()
		row := s.row
		if role == services.RoleSeeker {
			row.SeekerMediums = cloneMediums(mediums)
			row.MediumsSharedAt = &now
			if row.State == services.SessionWaiting {
				row.State = services.SessionActive
			}
		} else {
			if row.State == services.SessionWaiting {
				return trace.CompareFailed("session %v is waiting for the seeker's medium selection", s.id)
			}
			row.ProviderMediums = cloneMediums(mediums)
			row.MediumsSharedAt = &now
		}
		if err := s.registry.cfg.Sessions.UpdateWorkSession(ctx, &row); err != nil {
			return trace.Wrap(err)
		}
		s.setRow(row)
		if role == services.RoleProvider {
			s.registry.cfg.Bus.Publish(events.UserGroup(row.SeekerID, string(services.RoleSeeker)), events.Event{
				Type: "provider_mediums_shared",
				Payload: MediumsFrame{
					Type:      "provider_mediums_shared",
					SessionID: s.id,
					Mediums:   cloneMediums(row.ProviderMediums),
				},
			})
		}
		snapshot = s.Snapshot()
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &snapshot, nil
}

// HandleStartChat opens the chat room. The first request stamps the
// start time, repeats re-announce the room for reconnecting clients.
func (s *Session) HandleStartChat(ctx context.Context, userID int64) (*ChatReadyFrame, error) {
	var frame ChatReadyFrame
	err := s.do(ctx, func() error {
		if _, err := s.row.PartyRole(userID); err != nil {
			return trace.Wrap(err)
		}
		if s.row.State.IsTerminal() {
			return trace.CompareFailed("session %v has ended", s.id)
		}
		row := s.row
		if row.ChatStartedAt == nil {
			now := s.registry.cfg.Clock.Now().UTC()
			row.ChatStartedAt = &now
			if err := s.registry.cfg.Sessions.UpdateWorkSession(ctx, &row); err != nil {
				return trace.Wrap(err)
			}
			s.setRow(row)
		}
		frame = ChatReadyFrame{
			Type:       "chat_ready",
			SessionID:  s.id,
			ChatRoomID: row.ChatRoomID,
			StartedAt:  *row.ChatStartedAt,
		}
		s.registry.cfg.Bus.Publish(events.SessionGroup(s.id), events.Event{
			Type:    "chat_ready",
			Payload: frame,
		})
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &frame, nil
}

// HandleChat persists one chat line and fans it out to the session, with
// a message_sent echo to the sender and a push to the counterparty.
func (s *Session) HandleChat(ctx context.Context, userID int64, text string) (*services.ChatMessage, error) {
	if text == "" {
		return nil, trace.BadParameter("empty message text")
	}
	var msg *services.ChatMessage
	err := s.do(ctx, func() error {
		role, err := s.row.PartyRole(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		if s.row.State != services.SessionActive {
			return trace.CompareFailed("session %v is not active", s.id)
		}
		recipientID, err := s.row.Counterparty(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		now := s.registry.cfg.Clock.Now().UTC()
		if !now.After(s.lastMessageAt) {
			now = s.lastMessageAt.Add(time.Microsecond)
		}
		m := &services.ChatMessage{
			ID:         uuid.NewString(),
			SessionID:  s.id,
			SenderID:   userID,
			SenderRole: role,
			Text:       text,
			Status:     services.MessageSent,
			CreatedAt:  now,
		}
		if err := s.registry.cfg.Messages.CreateChatMessage(ctx, m); err != nil {
			return trace.Wrap(err)
		}
		s.lastMessageAt = now
		chatMessages.Inc()

		s.registry.cfg.Bus.Publish(events.SessionGroup(s.id), events.Event{
			Type: "chat_message",
			Payload: ChatFrame{
				Type:       "chat_message",
				SessionID:  s.id,
				MessageID:  m.ID,
				SenderID:   m.SenderID,
				SenderRole: m.SenderRole,
				Text:       m.Text,
				Status:     m.Status,
				CreatedAt:  m.CreatedAt,
			},
		})
		s.registry.cfg.Bus.Publish(events.UserGroup(userID, string(role)), events.Event{
			Type: "message_sent",
			Payload: MessageSentFrame{
				Type:      "message_sent",
				SessionID: s.id,
				MessageID: m.ID,
				Status:    m.Status,
				CreatedAt: m.CreatedAt,
			},
		})
		go s.pushChat(m, recipientID)
		msg = m
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return msg, nil
}

// pushChat notifies the counterparty's device off the session goroutine,
// chat latency never waits on FCM.
func (s *Session) pushChat(m *services.ChatMessage, recipientID int64) {
	if s.registry.cfg.Push == nil {
		return
	}
	ctx := context.Background()
	recipient, err := s.registry.cfg.Users.GetUser(ctx, recipientID)
	if err != nil {
		s.log.WithError(err).Warn("Failed to resolve the chat push recipient.")
		return
	}
	sender, err := s.registry.cfg.Users.GetUser(ctx, m.SenderID)
	if err != nil {
		s.log.WithError(err).Warn("Failed to resolve the chat push sender.")
		return
	}
	if _, err := s.registry.cfg.Push.Send(ctx, push.Notification{
		Recipient: recipient,
		Kind:      services.KindChatMessage,
		Title:     sender.DisplayName(),
		Body:      preview(m.Text),
		Data: map[string]string{
			"session_id": m.SessionID,
			"message_id": m.ID,
		},
	}); err != nil {
		s.log.WithError(err).Warn("Chat push dispatch failed.")
	}
}

// HandleAck upgrades a message receipt. Receipts only move up the
// sent < delivered < read ladder, repeated or lower acks change nothing.
func (s *Session) HandleAck(ctx context.Context, userID int64, messageID string, status services.MessageStatus) error {
	if status != services.MessageDelivered && status != services.MessageRead {
		return trace.BadParameter("unsupported receipt status %q", string(status))
	}
	return s.do(ctx, func() error {
		if _, err := s.row.PartyRole(userID); err != nil {
			return trace.Wrap(err)
		}
		m, err := s.registry.cfg.Messages.GetChatMessage(ctx, messageID)
		if err != nil {
			return trace.Wrap(err)
		}
		if m.SessionID != s.id {
			return trace.NotFound("message %v not found in session %v", messageID, s.id)
		}
		if m.SenderID == userID {
			return trace.AccessDenied("only the recipient can acknowledge a message")
		}
		if status.Rank() <= m.Status.Rank() {
			return nil
		}
		now := s.registry.cfg.Clock.Now().UTC()
		if err := s.registry.cfg.Messages.UpdateMessageStatus(ctx, messageID, status, now); err != nil {
			return trace.Wrap(err)
		}
		s.registry.cfg.Bus.Publish(events.UserGroup(m.SenderID, string(m.SenderRole)), events.Event{
			Type: "message_status_update",
			Payload: StatusFrame{
				Type:      "message_status_update",
				SessionID: s.id,
				MessageID: messageID,
				Status:    status,
				At:        now,
			},
		})
		return nil
	})
}

// HandleTyping upserts the volatile typing flag and forwards it to the
// counterparty.
func (s *Session) HandleTyping(ctx context.Context, userID int64, isTyping bool) error {
	return s.do(ctx, func() error {
		role, err := s.row.PartyRole(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		if s.row.State != services.SessionActive {
			return trace.CompareFailed("session %v is not active", s.id)
		}
		if err := s.registry.cfg.Messages.UpsertTypingFlag(ctx, &services.TypingFlag{
			SessionID:    s.id,
			UserID:       userID,
			Role:         role,
			IsTyping:     isTyping,
			LastTypingAt: s.registry.cfg.Clock.Now().UTC(),
		}); err != nil {
			return trace.Wrap(err)
		}
		s.registry.cfg.Bus.Publish(counterpartyGroup(s.row, role), events.Event{
			Type:  "typing_indicator",
			Lossy: true,
			Payload: TypingFrame{
				Type:      "typing_indicator",
				SessionID: s.id,
				UserID:    userID,
				Role:      role,
				IsTyping:  isTyping,
			},
		})
		return nil
	})
}

// History returns the chat backlog for a reconnecting party.
func (s *Session) History(ctx context.Context, userID int64, limit int) ([]services.ChatMessage, error) {
	row := s.Snapshot()
	if _, err := row.PartyRole(userID); err != nil {
		return nil, trace.Wrap(err)
	}
	if row.State != services.SessionActive {
		return nil, trace.CompareFailed("session %v is not active", s.id)
	}
	if limit <= 0 || limit > defaults.ChatHistoryPageSize {
		limit = defaults.ChatHistoryPageSize
	}
	messages, err := s.registry.cfg.Messages.ListSessionMessages(ctx, s.id, limit)
	return messages, trace.Wrap(err)
}

// Cancel terminates the session from any live state. The parent order
// flips, chat enters its retention window, the seeker returns to the
// discovery pool and both parties are told to disconnect.
func (s *Session) Cancel(ctx context.Context, userID int64) error {
	return s.do(ctx, func() error {
		if _, err := s.row.PartyRole(userID); err != nil {
			return trace.Wrap(err)
		}
		if s.row.State.IsTerminal() {
			return trace.CompareFailed("session %v has ended", s.id)
		}
		now := s.registry.cfg.Clock.Now().UTC()
		row := s.row
		row.State = services.SessionCancelled
		row.CancelledBy = &userID
		row.CancelledAt = &now
		if err := s.registry.cfg.Sessions.UpdateWorkSession(ctx, &row); err != nil {
			return trace.Wrap(err)
		}
		s.setRow(row)
		if err := s.registry.cfg.Orders.MarkCancelled(ctx, row.WorkOrderID); err != nil {
			s.log.WithError(err).Warn("Failed to cancel the parent work order.")
		}
		if err := s.registry.cfg.Messages.SetSessionMessageExpiry(ctx, s.id, now.Add(defaults.ChatRetention)); err != nil {
			s.log.WithError(err).Warn("Failed to schedule the chat retention window.")
		}
		if err := s.registry.cfg.Presence.SetSearching(ctx, row.SeekerID, true); err != nil {
			s.log.WithError(err).Warn("Failed to resume the seeker search.")
		}
		s.registry.cfg.Bus.Publish(events.SessionGroup(s.id), events.Event{
			Type: "connection_cancelled",
			Payload: CancelledFrame{
				Type:        "connection_cancelled",
				SessionID:   s.id,
				CancelledBy: userID,
				At:          now,
			},
		})
		s.log.WithField("by", userID).Info("Cancelled the session.")
		s.close()
		return nil
	})
}

// Complete finishes an active session, only the seeker closes the deal.
// The seeker keeps their search paused until they toggle it back on.
func (s *Session) Complete(ctx context.Context, userID int64, rating *int) error {
	if rating != nil {
		if err := services.ValidateRating(*rating); err != nil {
			return trace.Wrap(err)
		}
	}
	return s.do(ctx, func() error {
		role, err := s.row.PartyRole(userID)
		if err != nil {
			return trace.Wrap(err)
		}
		if role != services.RoleSeeker {
			return trace.CompareFailed("only the seeker completes a session")
		}
		if s.row.State != services.SessionActive {
			return trace.CompareFailed("session %v is not active", s.id)
		}
		now := s.registry.cfg.Clock.Now().UTC()
		row := s.row
		row.State = services.SessionCompleted
		row.CompletedAt = &now
		row.Rating = rating
		if err := s.registry.cfg.Sessions.UpdateWorkSession(ctx, &row); err != nil {
			return trace.Wrap(err)
		}
		s.setRow(row)
		if err := s.registry.cfg.Orders.MarkCompleted(ctx, row.WorkOrderID); err != nil {
			s.log.WithError(err).Warn("Failed to complete the parent work order.")
		}
		if err := s.registry.cfg.Messages.SetSessionMessageExpiry(ctx, s.id, now.Add(defaults.ChatRetention)); err != nil {
			s.log.WithError(err).Warn("Failed to schedule the chat retention window.")
		}
		s.registry.cfg.Bus.Publish(events.UserGroup(row.ProviderID, string(services.RoleProvider)), events.Event{
			Type: "service_finished",
			Payload: FinishedFrame{
				Type:      "service_finished",
				SessionID: s.id,
				Rating:    rating,
				At:        now,
			},
		})
		s.log.Info("Completed the session.")
		s.close()
		return nil
	})
}

// Attach returns the session snapshot for a connecting party and tells
// the counterparty they came online.
func (s *Session) Attach(userID int64) (*services.WorkSession, error) {
	row := s.Snapshot()
	role, err := row.PartyRole(userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.publishPresence(row, role, userID, true)
	return &row, nil
}

// Detach tells the counterparty the party dropped off. Presence frames
// are advisory, the session itself survives disconnects.
func (s *Session) Detach(userID int64) {
	row := s.Snapshot()
	role, err := row.PartyRole(userID)
	if err != nil {
		return
	}
	s.publishPresence(row, role, userID, false)
}

func (s *Session) publishPresence(row services.WorkSession, role services.Role, userID int64, online bool) {
	s.registry.cfg.Bus.Publish(counterpartyGroup(row, role), events.Event{
		Type: "user_presence",
		Payload: PresenceFrame{
			Type:      "user_presence",
			SessionID: s.id,
			UserID:    userID,
			Online:    online,
		},
	})
}

// sessionDistance computes the party distance in whole meters, false
// until both parties have reported a location.
func sessionDistance(row services.WorkSession) (float64, bool) {
	if row.SeekerLat == nil || row.SeekerLng == nil || row.ProviderLat == nil || row.ProviderLng == nil {
		return 0, false
	}
	meters := geo.HaversineMeters(*row.SeekerLat, *row.SeekerLng, *row.ProviderLat, *row.ProviderLng)
	return math.Round(meters), true
}

func counterpartyGroup(row services.WorkSession, role services.Role) string {
	if role == services.RoleSeeker {
		return events.UserGroup(row.ProviderID, string(services.RoleProvider))
	}
	return events.UserGroup(row.SeekerID, string(services.RoleSeeker))
}

func cloneMediums(mediums map[string]string) map[string]string {
	if mediums == nil {
		return nil
	}
	out := make(map[string]string, len(mediums))
	for key, value := range mediums {
		out[key] = value
	}
	return out
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= chatPreviewRunes {
		return text
	}
	return string(runes[:chatPreviewRunes]) + "..."
}
