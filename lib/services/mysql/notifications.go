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
	"time"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// CreateNotification implements services.NotificationStore.
func (s *Store) CreateNotification(ctx context.Context, n *services.NotificationLog) (*services.NotificationLog, error) {
	if err := n.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *n
	out.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_log
			(work_order_id, recipient_id, kind, transport, status,
			 external_id, error, sent_at, delivered_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.WorkOrderID, out.RecipientID, out.Kind, out.Transport, out.Status,
		out.ExternalID, out.Error, out.SentAt, out.DeliveredAt, out.CreatedAt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out.ID = id
	return &out, nil
}

// MarkNotificationSent implements services.NotificationStore.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_log SET status = ?, external_id = ?, sent_at = ? WHERE id = ?`,
		services.NotificationSent, externalID, at.UTC(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	return requireAffected(res, "notification %v is not found", id)
}

// MarkNotificationFailed implements services.NotificationStore.
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_log SET status = ?, error = ?, sent_at = ? WHERE id = ?`,
		services.NotificationFailed, reason, at.UTC(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	return requireAffected(res, "notification %v is not found", id)
}
