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

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

const messageColumns = `id, session_id, sender_id, sender_role, text, status,
	delivered_at, read_at, created_at, expires_at`

// CreateChatMessage implements services.MessageStore.
func (s *Store) CreateChatMessage(ctx context.Context, message *services.ChatMessage) error {
	if err := message.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages
			(id, session_id, sender_id, sender_role, text, status,
			 delivered_at, read_at, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.SenderID, message.SenderRole,
		message.Text, message.Status, message.DeliveredAt, message.ReadAt,
		message.CreatedAt, message.ExpiresAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return trace.AlreadyExists("message %v already exists", message.ID)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetChatMessage implements services.MessageStore.
func (s *Store) GetChatMessage(ctx context.Context, id string) (*services.ChatMessage, error) {
	var message services.ChatMessage
	err := s.db.GetContext(ctx, &message,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("message %v is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return &message, nil
}

// UpdateMessageStatus implements services.MessageStore.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status services.MessageStatus, at time.Time) error {
	if err := status.Validate(); err != nil {
		return trace.Wrap(err)
	}
	stamp := at.UTC()
	var res sql.Result
	var err error
	switch status {
	case services.MessageDelivered:
		res, err = s.db.ExecContext(ctx,
			`UPDATE chat_messages SET status = ?, delivered_at = ? WHERE id = ?`,
			status, stamp, id)
	case services.MessageRead:
		res, err = s.db.ExecContext(ctx,
			`UPDATE chat_messages SET status = ?, read_at = ? WHERE id = ?`,
			status, stamp, id)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE chat_messages SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	return requireAffected(res, "message %v is not found", id)
}

// ListSessionMessages implements services.MessageStore. The inner query
// picks the most recent page, the outer one restores chronological order.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]services.ChatMessage, error) {
	if limit <= 0 || limit > defaults.ChatHistoryPageSize {
		limit = defaults.ChatHistoryPageSize
	}
	var out []services.ChatMessage
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM chat_messages
			WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		 ) page ORDER BY created_at ASC, id ASC`,
		sessionID, limit)
	return out, trace.Wrap(err)
}

// SetSessionMessageExpiry implements services.MessageStore. Zero affected
// rows is fine, sessions without chat have nothing to expire.
func (s *Store) SetSessionMessageExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET expires_at = ? WHERE session_id = ?`,
		expiresAt.UTC(), sessionID)
	return trace.Wrap(err)
}

// DeleteExpiredMessages implements services.MessageStore.
func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}

// UpsertTypingFlag implements services.MessageStore.
func (s *Store) UpsertTypingFlag(ctx context.Context, flag *services.TypingFlag) error {
	if flag.SessionID == "" || flag.UserID == 0 {
		return trace.BadParameter("missing typing flag parameters")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO typing_flags (session_id, user_id, role, is_typing, last_typing_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			role = VALUES(role),
			is_typing = VALUES(is_typing),
			last_typing_at = VALUES(last_typing_at)`,
		flag.SessionID, flag.UserID, flag.Role, flag.IsTyping, flag.LastTypingAt.UTC())
	return trace.Wrap(err)
}
