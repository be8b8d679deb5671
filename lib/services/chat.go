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
)

// MessageStatus is the receipt state of a chat message. Transitions are
// monotone, a message never moves back down the ladder.
type MessageStatus string

const (
	// MessageSent means the message is persisted and fanned out
	MessageSent MessageStatus = "sent"
	// MessageDelivered means the recipient's device confirmed receipt
	MessageDelivered MessageStatus = "delivered"
	// MessageRead means the recipient opened the conversation
	MessageRead MessageStatus = "read"
)

// Validate returns an error if the status is not a known value.
func (s MessageStatus) Validate() error {
	switch s {
	case MessageSent, MessageDelivered, MessageRead:
		return nil
	}
	return trace.BadParameter("unsupported message status %q", string(s))
}

// Rank orders receipt states, sent < delivered < read.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageSent:
		return 0
	case MessageDelivered:
		return 1
	case MessageRead:
		return 2
	}
	return -1
}

// ChatMessage is one line of session chat. Retention is bounded, the
// expiry is stamped when the parent session terminates and a sweeper
// removes expired rows.
type ChatMessage struct {
	ID          string        `json:"id" db:"id"`
	SessionID   string        `json:"session_id" db:"session_id"`
	SenderID    int64         `json:"sender_id" db:"sender_id"`
	SenderRole  Role          `json:"sender_role" db:"sender_role"`
	Text        string        `json:"text" db:"text"`
	Status      MessageStatus `json:"status" db:"status"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt      *time.Time    `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
}

// CheckAndSetDefaults validates a new message before it is persisted.
func (m *ChatMessage) CheckAndSetDefaults() error {
	if m.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	if m.SessionID == "" {
		return trace.BadParameter("missing parameter SessionID")
	}
	if m.SenderID == 0 {
		return trace.BadParameter("missing parameter SenderID")
	}
	if m.Text == "" {
		return trace.BadParameter("empty message text")
	}
	if m.Status == "" {
		m.Status = MessageSent
	}
	return trace.Wrap(m.Status.Validate())
}

// TypingFlag is the volatile typing indicator state, unique per session
// and user, recreated on reconnect.
type TypingFlag struct {
	SessionID    string    `json:"session_id" db:"session_id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	Role         Role      `json:"role" db:"role"`
	IsTyping     bool      `json:"is_typing" db:"is_typing"`
	LastTypingAt time.Time `json:"last_typing_at" db:"last_typing_at"`
}
