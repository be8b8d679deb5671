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
	"time"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
)

// SessionState is the lifecycle state of a live work session.
type SessionState string

const (
	// SessionWaiting is the state between order acceptance and the
	// seeker's first medium selection
	SessionWaiting SessionState = "waiting"
	// SessionActive is the fully established two party session
	SessionActive SessionState = "active"
	// SessionCancelled is terminal, reached from any non terminal state
	SessionCancelled SessionState = "cancelled"
	// SessionCompleted is terminal, reached from active by the seeker
	SessionCompleted SessionState = "completed"
)

// Validate returns an error if the state is not a known value.
func (s SessionState) Validate() error {
	switch s {
	case SessionWaiting, SessionActive, SessionCancelled, SessionCompleted:
		return nil
	}
	return trace.BadParameter("unsupported session state %q", string(s))
}

// IsTerminal reports whether the session reached its final state.
func (s SessionState) IsTerminal() bool {
	return s == SessionCancelled || s == SessionCompleted
}

// CanTransition reports whether the session state machine allows moving
// to next.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionWaiting:
		return next == SessionActive || next == SessionCancelled
	case SessionActive:
		return next == SessionCancelled || next == SessionCompleted
	}
	return false
}

// WorkSession carries the live state of one accepted work order: party
// locations, exchanged contact mediums and the chat room. It exists iff
// the parent order was accepted.
type WorkSession struct {
	ID          string       `json:"id" db:"id"`
	WorkOrderID int64        `json:"work_order_id" db:"work_order_id"`
	SeekerID    int64        `json:"seeker_id" db:"seeker_id"`
	ProviderID  int64        `json:"provider_id" db:"provider_id"`
	State       SessionState `json:"state" db:"state"`

	ProviderLat    *float64   `json:"provider_lat,omitempty" db:"provider_lat"`
	ProviderLng    *float64   `json:"provider_lng,omitempty" db:"provider_lng"`
	ProviderLocAt  *time.Time `json:"provider_loc_at,omitempty" db:"provider_loc_at"`
	SeekerLat      *float64   `json:"seeker_lat,omitempty" db:"seeker_lat"`
	SeekerLng      *float64   `json:"seeker_lng,omitempty" db:"seeker_lng"`
	SeekerLocAt    *time.Time `json:"seeker_loc_at,omitempty" db:"seeker_loc_at"`
	DistanceM      *float64   `json:"current_distance_m,omitempty" db:"current_distance_m"`
	LastDistanceAt *time.Time `json:"last_distance_at,omitempty" db:"last_distance_at"`

	SeekerMediums   map[string]string `json:"seeker_mediums" db:"-"`
	ProviderMediums map[string]string `json:"provider_mediums" db:"-"`
	MediumsSharedAt *time.Time        `json:"mediums_shared_at,omitempty" db:"mediums_shared_at"`

	// ChatRoomID equals the session id, kept as its own column so the
	// chat substream can address the room without loading the session.
	ChatRoomID    string     `json:"chat_room_id" db:"chat_room_id"`
	ChatStartedAt *time.Time `json:"chat_started_at,omitempty" db:"chat_started_at"`

	CancelledBy *int64     `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Rating      *int       `json:"rating,omitempty" db:"rating"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CheckAndSetDefaults validates a new session before it is persisted.
func (s *WorkSession) CheckAndSetDefaults() error {
	if s.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	if s.WorkOrderID == 0 {
		return trace.BadParameter("missing parameter WorkOrderID")
	}
	if s.SeekerID == 0 || s.ProviderID == 0 {
		return trace.BadParameter("missing session parties")
	}
	if s.State == "" {
		s.State = SessionWaiting
	}
	if s.ChatRoomID == "" {
		s.ChatRoomID = s.ID
	}
	return trace.Wrap(s.State.Validate())
}

// PartyRole resolves which side of the session a user is on.
func (s *WorkSession) PartyRole(userID int64) (Role, error) {
	switch userID {
	case s.SeekerID:
		return RoleSeeker, nil
	case s.ProviderID:
		return RoleProvider, nil
	}
	return "", trace.AccessDenied("user %v is not a party to session %v", userID, s.ID)
}

// Counterparty returns the other party's user id.
func (s *WorkSession) Counterparty(userID int64) (int64, error) {
	role, err := s.PartyRole(userID)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if role == RoleSeeker {
		return s.ProviderID, nil
	}
	return s.SeekerID, nil
}

// TerminalAt returns the timestamp of the terminal transition, nil while
// the session is live.
func (s *WorkSession) TerminalAt() *time.Time {
	switch s.State {
	case SessionCancelled:
		return s.CancelledAt
	case SessionCompleted:
		return s.CompletedAt
	}
	return nil
}

// ValidateMediums rejects maps carrying keys outside the supported
// contact medium set. Values are opaque and never inspected.
func ValidateMediums(mediums map[string]string) error {
	for key := range mediums {
		if !isMediumKey(key) {
			return trace.BadParameter("unsupported contact medium %q", key)
		}
	}
	return nil
}

func isMediumKey(key string) bool {
	for _, known := range defaults.ContactMediumKeys {
		if key == known {
			return true
		}
	}
	return false
}

// ValidateRating rejects ratings outside the 1..5 scale.
func ValidateRating(rating int) error {
	if rating < 1 || rating > defaults.MaxRating {
		return trace.BadParameter("rating %v is outside the range [1, %v]", rating, defaults.MaxRating)
	}
	return nil
}
