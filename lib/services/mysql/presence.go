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

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// UpsertProviderPresence implements services.PresenceStore.
func (s *Store) UpsertProviderPresence(ctx context.Context, presence *services.ProviderPresence) error {
	if err := presence.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_presence
			(user_id, active, lat, lng, main_cat_code, sub_cat_code, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			active = VALUES(active), lat = VALUES(lat), lng = VALUES(lng),
			main_cat_code = VALUES(main_cat_code), sub_cat_code = VALUES(sub_cat_code),
			last_active_at = VALUES(last_active_at)`,
		presence.UserID, presence.Active, presence.Lat, presence.Lng,
		presence.MainCatCode, presence.SubCatCode, presence.LastActiveAt)
	return trace.Wrap(err)
}

// GetProviderPresence implements services.PresenceStore.
func (s *Store) GetProviderPresence(ctx context.Context, userID int64) (*services.ProviderPresence, error) {
	var presence services.ProviderPresence
	err := s.db.GetContext(ctx, &presence,
		`SELECT user_id, active, lat, lng, main_cat_code, sub_cat_code, last_active_at
		 FROM provider_presence WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("provider presence for user %v is not found", userID)
		}
		return nil, trace.Wrap(err)
	}
	return &presence, nil
}

// ListActiveProviders implements services.PresenceStore.
func (s *Store) ListActiveProviders(ctx context.Context) ([]services.ProviderPresence, error) {
	var out []services.ProviderPresence
	err := s.db.SelectContext(ctx, &out,
		`SELECT user_id, active, lat, lng, main_cat_code, sub_cat_code, last_active_at
		 FROM provider_presence WHERE active = TRUE`)
	return out, trace.Wrap(err)
}

// UpsertSeekerSearch implements services.PresenceStore.
func (s *Store) UpsertSeekerSearch(ctx context.Context, search *services.SeekerSearch) error {
	if err := search.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seeker_search
			(user_id, searching, lat, lng, cat_code, sub_cat_code, radius_km, last_search_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			searching = VALUES(searching), lat = VALUES(lat), lng = VALUES(lng),
			cat_code = VALUES(cat_code), sub_cat_code = VALUES(sub_cat_code),
			radius_km = VALUES(radius_km), last_search_at = VALUES(last_search_at)`,
		search.UserID, search.Searching, search.Lat, search.Lng,
		search.CatCode, search.SubCatCode, search.RadiusKm, search.LastSearchAt)
	return trace.Wrap(err)
}

// GetSeekerSearch implements services.PresenceStore.
func (s *Store) GetSeekerSearch(ctx context.Context, userID int64) (*services.SeekerSearch, error) {
	var search services.SeekerSearch
	err := s.db.GetContext(ctx, &search,
		`SELECT user_id, searching, lat, lng, cat_code, sub_cat_code, radius_km, last_search_at
		 FROM seeker_search WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("seeker search for user %v is not found", userID)
		}
		return nil, trace.Wrap(err)
	}
	return &search, nil
}

// ListSearchingSeekers implements services.PresenceStore.
func (s *Store) ListSearchingSeekers(ctx context.Context) ([]services.SeekerSearch, error) {
	var out []services.SeekerSearch
	err := s.db.SelectContext(ctx, &out,
		`SELECT user_id, searching, lat, lng, cat_code, sub_cat_code, radius_km, last_search_at
		 FROM seeker_search WHERE searching = TRUE`)
	return out, trace.Wrap(err)
}

// SetSeekerSearching implements services.PresenceStore.
func (s *Store) SetSeekerSearching(ctx context.Context, userID int64, searching bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seeker_search SET searching = ?, last_search_at = ? WHERE user_id = ?`,
		searching, s.clock.Now().UTC(), userID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireAffected(res, "seeker search for user %v is not found", userID))
}
