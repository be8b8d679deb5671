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

// WorkOrderStatus is the lifecycle state of an assignment request.
type WorkOrderStatus string

const (
	// OrderPending means the provider has not decided yet
	OrderPending WorkOrderStatus = "pending"
	// OrderAccepted means the provider took the job, a session exists
	OrderAccepted WorkOrderStatus = "accepted"
	// OrderRejected means the provider declined, terminal
	OrderRejected WorkOrderStatus = "rejected"
	// OrderCompleted means the session finished normally, terminal
	OrderCompleted WorkOrderStatus = "completed"
	// OrderCancelled means either party aborted the session, terminal
	OrderCancelled WorkOrderStatus = "cancelled"
)

// Validate returns an error if the status is not a known value.
func (s WorkOrderStatus) Validate() error {
	switch s {
	case OrderPending, OrderAccepted, OrderRejected, OrderCompleted, OrderCancelled:
		return nil
	}
	return trace.BadParameter("unsupported work order status %q", string(s))
}

// IsTerminal reports whether no further transitions are allowed.
func (s WorkOrderStatus) IsTerminal() bool {
	switch s {
	case OrderRejected, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows moving to next.
// Pending orders resolve to accepted or rejected, accepted orders resolve
// to completed or cancelled, terminal states are immutable.
func (s WorkOrderStatus) CanTransition(next WorkOrderStatus) bool {
	switch s {
	case OrderPending:
		return next == OrderAccepted || next == OrderRejected
	case OrderAccepted:
		return next == OrderCompleted || next == OrderCancelled
	}
	return false
}

// WorkOrder is a seeker's assignment request to one provider.
type WorkOrder struct {
	ID          int64  `json:"id" db:"id"`
	SeekerID    int64  `json:"seeker_id" db:"seeker_id"`
	ProviderID  int64  `json:"provider_id" db:"provider_id"`
	ServiceType string `json:"service_type" db:"service_type"`
	MainCatCode string `json:"main_cat_code" db:"main_cat_code"`
	SubCatCode  string `json:"sub_cat_code" db:"sub_cat_code"`
	Message     string `json:"message" db:"message"`
	// Schedule is an opaque client supplied blob, stored verbatim.
	Schedule             *string         `json:"schedule,omitempty" db:"schedule"`
	SeekerLat            *float64        `json:"seeker_lat,omitempty" db:"seeker_lat"`
	SeekerLng            *float64        `json:"seeker_lng,omitempty" db:"seeker_lng"`
	ProviderLat          *float64        `json:"provider_lat,omitempty" db:"provider_lat"`
	ProviderLng          *float64        `json:"provider_lng,omitempty" db:"provider_lng"`
	CalculatedDistanceKm *float64        `json:"calculated_distance_km,omitempty" db:"calculated_distance_km"`
	Status               WorkOrderStatus `json:"status" db:"status"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	ResponseTime         *time.Time      `json:"response_time,omitempty" db:"response_time"`
	CompletionTime       *time.Time      `json:"completion_time,omitempty" db:"completion_time"`
}

// CheckAndSetDefaults validates a new order before it is persisted.
func (o *WorkOrder) CheckAndSetDefaults() error {
	if o.SeekerID == 0 {
		return trace.BadParameter("missing parameter SeekerID")
	}
	if o.ProviderID == 0 {
		return trace.BadParameter("missing parameter ProviderID")
	}
	if o.SeekerID == o.ProviderID {
		return trace.BadParameter("seeker and provider cannot be the same user")
	}
	if o.ServiceType == "" {
		return trace.BadParameter("missing parameter ServiceType")
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	return trace.Wrap(o.Status.Validate())
}

// WorkOrderFilter narrows List queries.
type WorkOrderFilter struct {
	// SeekerID or ProviderID scope the listing to one side, zero means
	// no constraint on that side.
	SeekerID   int64
	ProviderID int64
	// Status filters by lifecycle state when non empty.
	Status WorkOrderStatus
	Limit  int
	Offset int
}

// ProviderDashboard is the aggregate view behind the provider dashboard
// endpoint.
type ProviderDashboard struct {
	Pending       int64    `json:"pending"`
	Accepted      int64    `json:"accepted"`
	Completed     int64    `json:"completed"`
	Rejected      int64    `json:"rejected"`
	Cancelled     int64    `json:"cancelled"`
	AverageRating *float64 `json:"average_rating,omitempty"`
}
