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

// NotificationKind is the typed payload class of an outbound
// notification.
type NotificationKind string

const (
	// KindWorkAssigned tells a provider a new order is waiting
	KindWorkAssigned NotificationKind = "work_assigned"
	// KindWorkAccepted tells a seeker the provider took the job
	KindWorkAccepted NotificationKind = "work_accepted"
	// KindWorkRejected tells a seeker the provider declined
	KindWorkRejected NotificationKind = "work_rejected"
	// KindChatMessage carries a chat preview to a backgrounded device
	KindChatMessage NotificationKind = "chat_message"
)

// Validate returns an error if the kind is not a known value.
func (k NotificationKind) Validate() error {
	switch k {
	case KindWorkAssigned, KindWorkAccepted, KindWorkRejected, KindChatMessage:
		return nil
	}
	return trace.BadParameter("unsupported notification kind %q", string(k))
}

// NotificationTransport is the channel a notification went out on.
type NotificationTransport string

const (
	// TransportPush is FCM mobile push
	TransportPush NotificationTransport = "push"
	// TransportWS is the live websocket
	TransportWS NotificationTransport = "ws"
)

// NotificationStatus is the delivery state recorded in the audit trail.
type NotificationStatus string

const (
	// NotificationPending is the initial state before dispatch
	NotificationPending NotificationStatus = "pending"
	// NotificationSent means the transport accepted the payload
	NotificationSent NotificationStatus = "sent"
	// NotificationDelivered means the recipient confirmed receipt
	NotificationDelivered NotificationStatus = "delivered"
	// NotificationFailed means dispatch failed, the error field says why
	NotificationFailed NotificationStatus = "failed"
)

// NotificationLog is one row of the append only dispatch audit trail.
type NotificationLog struct {
	ID          int64                 `json:"id" db:"id"`
	WorkOrderID *int64                `json:"work_order_id,omitempty" db:"work_order_id"`
	RecipientID int64                 `json:"recipient_id" db:"recipient_id"`
	Kind        NotificationKind      `json:"kind" db:"kind"`
	Transport   NotificationTransport `json:"transport" db:"transport"`
	Status      NotificationStatus    `json:"status" db:"status"`
	// ExternalID is the transport's message handle, the FCM message id
	// for push sends.
	ExternalID  *string    `json:"external_id,omitempty" db:"external_id"`
	Error       *string    `json:"error,omitempty" db:"error"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// CheckAndSetDefaults validates a new log row.
func (n *NotificationLog) CheckAndSetDefaults() error {
	if n.RecipientID == 0 {
		return trace.BadParameter("missing parameter RecipientID")
	}
	if err := n.Kind.Validate(); err != nil {
		return trace.Wrap(err)
	}
	if n.Transport != TransportPush && n.Transport != TransportWS {
		return trace.BadParameter("unsupported transport %q", string(n.Transport))
	}
	if n.Status == "" {
		n.Status = NotificationPending
	}
	return nil
}
