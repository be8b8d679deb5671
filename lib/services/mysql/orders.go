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
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

const orderColumns = `id, seeker_id, provider_id, service_type, main_cat_code, sub_cat_code,
	message, schedule, seeker_lat, seeker_lng, provider_lat, provider_lng,
	calculated_distance_km, status, created_at, response_time, completion_time`

// CreateWorkOrder implements services.WorkOrderStore. The unique key over
// (seeker, provider, pending) enforces the single pending order invariant
// at the storage layer.
func (s *Store) CreateWorkOrder(ctx context.Context, order *services.WorkOrder) (*services.WorkOrder, error) {
	if err := order.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *order
	out.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO work_orders
			(seeker_id, provider_id, service_type, main_cat_code, sub_cat_code,
			 message, schedule, seeker_lat, seeker_lng, provider_lat, provider_lng,
			 calculated_distance_km, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.SeekerID, out.ProviderID, out.ServiceType, out.MainCatCode, out.SubCatCode,
		out.Message, out.Schedule, out.SeekerLat, out.SeekerLng, out.ProviderLat, out.ProviderLng,
		out.CalculatedDistanceKm, out.Status, out.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, trace.AlreadyExists(
				"a pending work order between seeker %v and provider %v already exists",
				order.SeekerID, order.ProviderID)
		}
		return nil, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out.ID = id
	return &out, nil
}

// GetWorkOrder implements services.WorkOrderStore.
func (s *Store) GetWorkOrder(ctx context.Context, id int64) (*services.WorkOrder, error) {
	var order services.WorkOrder
	err := s.db.GetContext(ctx, &order,
		`SELECT `+orderColumns+` FROM work_orders WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("work order %v is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return &order, nil
}

// TransitionWorkOrder implements services.WorkOrderStore. The conditional
// update plus affected row check is the guard, concurrent responders lose
// with trace.CompareFailed.
func (s *Store) TransitionWorkOrder(ctx context.Context, id int64, from, to services.WorkOrderStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return trace.BadParameter("work order cannot move from %v to %v", from, to)
	}
	stamp := at.UTC()
	var res sql.Result
	var err error
	switch to {
	case services.OrderAccepted, services.OrderRejected:
		res, err = s.db.ExecContext(ctx,
			`UPDATE work_orders SET status = ?, response_time = ? WHERE id = ? AND status = ?`,
			to, stamp, id, from)
	case services.OrderCompleted:
		res, err = s.db.ExecContext(ctx,
			`UPDATE work_orders SET status = ?, completion_time = ? WHERE id = ? AND status = ?`,
			to, stamp, id, from)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE work_orders SET status = ? WHERE id = ? AND status = ?`,
			to, id, from)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n > 0 {
		return nil
	}
	// The guard missed, find out why for a precise error.
	current, err := s.GetWorkOrder(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.CompareFailed("work order %v is %v, not %v", id, current.Status, from)
}

// ListWorkOrders implements services.WorkOrderStore.
func (s *Store) ListWorkOrders(ctx context.Context, filter services.WorkOrderFilter) ([]services.WorkOrder, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if filter.SeekerID != 0 {
		where = append(where, "seeker_id = ?")
		args = append(args, filter.SeekerID)
	}
	if filter.ProviderID != 0 {
		where = append(where, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaults.MaxPageSize {
		limit = defaults.WorkOrderPageSize
	}
	args = append(args, limit, filter.Offset)

	var out []services.WorkOrder
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+orderColumns+` FROM work_orders
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	return out, trace.Wrap(err)
}

// HasOpenWorkOrder implements services.WorkOrderStore.
func (s *Store) HasOpenWorkOrder(ctx context.Context, userID int64) (bool, error) {
	var open bool
	err := s.db.GetContext(ctx, &open,
		`SELECT EXISTS (
			SELECT 1 FROM work_orders
			WHERE (seeker_id = ? OR provider_id = ?) AND status IN ('pending', 'accepted')
		 )`, userID, userID)
	return open, trace.Wrap(err)
}

// GetProviderDashboard implements services.WorkOrderStore.
func (s *Store) GetProviderDashboard(ctx context.Context, providerID int64) (*services.ProviderDashboard, error) {
	var dash services.ProviderDashboard
	err := s.db.GetContext(ctx, &dash,
		`SELECT
			COALESCE(SUM(status = 'pending'), 0)   AS pending,
			COALESCE(SUM(status = 'accepted'), 0)  AS accepted,
			COALESCE(SUM(status = 'completed'), 0) AS completed,
			COALESCE(SUM(status = 'rejected'), 0)  AS rejected,
			COALESCE(SUM(status = 'cancelled'), 0) AS cancelled
		 FROM work_orders WHERE provider_id = ?`, providerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.db.GetContext(ctx, &dash.AverageRating,
		`SELECT AVG(rating) FROM work_sessions WHERE provider_id = ? AND rating IS NOT NULL`,
		providerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &dash, nil
}
