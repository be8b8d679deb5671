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
	"encoding/json"
	"errors"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

const sessionColumns = `id, work_order_id, seeker_id, provider_id, state,
	provider_lat, provider_lng, provider_loc_at, seeker_lat, seeker_lng, seeker_loc_at,
	current_distance_m, last_distance_at, seeker_mediums, provider_mediums, mediums_shared_at,
	chat_room_id, chat_started_at, cancelled_by, cancelled_at, completed_at, rating, created_at`

// sessionRow adds the JSON encoded medium columns the WorkSession struct
// keeps as maps.
type sessionRow struct {
	services.WorkSession
	SeekerMediumsRaw   []byte `db:"seeker_mediums"`
	ProviderMediumsRaw []byte `db:"provider_mediums"`
}

func (r *sessionRow) toSession() (*services.WorkSession, error) {
	session := r.WorkSession
	var err error
	if session.SeekerMediums, err = unpackMediums(r.SeekerMediumsRaw); err != nil {
		return nil, trace.Wrap(err)
	}
	if session.ProviderMediums, err = unpackMediums(r.ProviderMediumsRaw); err != nil {
		return nil, trace.Wrap(err)
	}
	return &session, nil
}

func packMediums(mediums map[string]string) ([]byte, error) {
	if len(mediums) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(mediums)
	return out, trace.Wrap(err)
}

func unpackMediums(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var mediums map[string]string
	if err := json.Unmarshal(raw, &mediums); err != nil {
		return nil, trace.Wrap(err)
	}
	return mediums, nil
}

// CreateWorkSession implements services.SessionStore.
func (s *Store) CreateWorkSession(ctx context.Context, session *services.WorkSession) error {
	if err := session.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	seekerMediums, err := packMediums(session.SeekerMediums)
	if err != nil {
		return trace.Wrap(err)
	}
	providerMediums, err := packMediums(session.ProviderMediums)
	if err != nil {
		return trace.Wrap(err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.clock.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_sessions
			(id, work_order_id, seeker_id, provider_id, state,
			 provider_lat, provider_lng, provider_loc_at, seeker_lat, seeker_lng, seeker_loc_at,
			 current_distance_m, last_distance_at, seeker_mediums, provider_mediums, mediums_shared_at,
			 chat_room_id, chat_started_at, cancelled_by, cancelled_at, completed_at, rating, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.WorkOrderID, session.SeekerID, session.ProviderID, session.State,
		session.ProviderLat, session.ProviderLng, session.ProviderLocAt,
		session.SeekerLat, session.SeekerLng, session.SeekerLocAt,
		session.DistanceM, session.LastDistanceAt, seekerMediums, providerMediums, session.MediumsSharedAt,
		session.ChatRoomID, session.ChatStartedAt, session.CancelledBy, session.CancelledAt,
		session.CompletedAt, session.Rating, session.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return trace.AlreadyExists("a session for work order %v already exists", session.WorkOrderID)
		}
		return trace.Wrap(err)
	}
	return nil
}

// GetWorkSession implements services.SessionStore.
func (s *Store) GetWorkSession(ctx context.Context, id string) (*services.WorkSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("session %v is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return row.toSession()
}

// GetWorkSessionByOrder implements services.SessionStore.
func (s *Store) GetWorkSessionByOrder(ctx context.Context, orderID int64) (*services.WorkSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE work_order_id = ?`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("no session for work order %v", orderID)
		}
		return nil, trace.Wrap(err)
	}
	return row.toSession()
}

// UpdateWorkSession implements services.SessionStore with a full row
// write, the owning actor serializes mutations.
func (s *Store) UpdateWorkSession(ctx context.Context, session *services.WorkSession) error {
	seekerMediums, err := packMediums(session.SeekerMediums)
	if err != nil {
		return trace.Wrap(err)
	}
	providerMediums, err := packMediums(session.ProviderMediums)
	if err != nil {
		return trace.Wrap(err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_sessions SET state = ?,
			provider_lat = ?, provider_lng = ?, provider_loc_at = ?,
			seeker_lat = ?, seeker_lng = ?, seeker_loc_at = ?,
			current_distance_m = ?, last_distance_at = ?,
			seeker_mediums = ?, provider_mediums = ?, mediums_shared_at = ?,
			chat_started_at = ?, cancelled_by = ?, cancelled_at = ?, completed_at = ?, rating = ?
		 WHERE id = ?`,
		session.State,
		session.ProviderLat, session.ProviderLng, session.ProviderLocAt,
		session.SeekerLat, session.SeekerLng, session.SeekerLocAt,
		session.DistanceM, session.LastDistanceAt,
		seekerMediums, providerMediums, session.MediumsSharedAt,
		session.ChatStartedAt, session.CancelledBy, session.CancelledAt,
		session.CompletedAt, session.Rating,
		session.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	return requireAffected(res, "session %v is not found", session.ID)
}

// ListLiveWorkSessions implements services.SessionStore.
func (s *Store) ListLiveWorkSessions(ctx context.Context) ([]services.WorkSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+sessionColumns+` FROM work_sessions
		 WHERE state IN (?, ?) ORDER BY created_at ASC, id ASC`,
		services.SessionWaiting, services.SessionActive)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]services.WorkSession, 0, len(rows))
	for i := range rows {
		session, err := rows[i].toSession()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *session)
	}
	return out, nil
}
