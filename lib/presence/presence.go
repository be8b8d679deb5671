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

// Package presence tracks provider availability and seeker discovery.
// It owns the in-memory geo index, keeps it in step with the store and
// publishes the online, offline and moved edges searching seekers see.
package presence

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/geo"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// Config holds presence service options.
type Config struct {
	// Users gates toggles by role and resolves display names.
	Users services.UserStore
	// Presence is the durable presence and search repository.
	Presence services.PresenceStore
	// Categories validates category codes on toggles.
	Categories services.CategoryStore
	// Bus carries the discovery edge events.
	Bus *events.Bus
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Categories == nil {
		return trace.BadParameter("missing parameter Categories")
	}
	if c.Bus == nil {
		return trace.BadParameter("missing parameter Bus")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ProviderUpdate is one provider availability toggle.
type ProviderUpdate struct {
	Active      bool
	Lat         float64
	Lng         float64
	MainCatCode string
	SubCatCode  string
}

// SeekerUpdate is one seeker search toggle.
type SeekerUpdate struct {
	Searching  bool
	Lat        float64
	Lng        float64
	CatCode    string
	SubCatCode string
	RadiusKm   float64
}

// ToggleResult reports the new and prior active state of a toggle, the
// prior state is how callers distinguish an edge from a repeat.
type ToggleResult struct {
	Active    bool `json:"active"`
	WasActive bool `json:"was_active"`
}

// NearbyProvider is one row of a discovery snapshot.
type NearbyProvider struct {
	ProviderID  int64   `json:"provider_id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DistanceKm  float64 `json:"distance_km"`
	Distance    string  `json:"distance"`
	MainCatCode string  `json:"main_cat_code"`
	SubCatCode  string  `json:"sub_cat_code"`
}

// ProviderEdge is the payload of new_provider_available and
// provider_went_offline frames.
type ProviderEdge struct {
	Type        string  `json:"type"`
	ProviderID  int64   `json:"provider_id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DistanceKm  float64 `json:"distance_km"`
	Distance    string  `json:"distance"`
	MainCatCode string  `json:"main_cat_code"`
	SubCatCode  string  `json:"sub_cat_code"`
}

// SeekerWatch is one searching seeker returned by
// SeekersSearchingForProvider.
type SeekerWatch struct {
	SeekerID   int64   `json:"seeker_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	RadiusKm   float64 `json:"radius_km"`
	SubCatCode string  `json:"sub_cat_code"`
}

// Service keeps the geo index consistent with the store and fans out
// discovery edges. Mutations serialize per user.
type Service struct {
	cfg   Config
	index *geo.Index
	log   *log.Entry

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// New builds the presence service and warms the index from the store.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Service{
		cfg:   cfg,
		index: geo.NewIndex(),
		locks: make(map[int64]*sync.Mutex),
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentPresence,
		}),
	}
	if err := s.warmStart(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return s, nil
}

// warmStart rebuilds the index from active rows so discovery works
// immediately after a restart.
func (s *Service) warmStart(ctx context.Context) error {
	providers, err := s.cfg.Presence.ListActiveProviders(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, p := range providers {
		if p.Lat == nil || p.Lng == nil {
			continue
		}
		s.index.UpsertProvider(p.MainCatCode, p.SubCatCode, geo.Provider{
			ID: p.UserID, Lat: *p.Lat, Lng: *p.Lng,
		})
	}
	seekers, err := s.cfg.Presence.ListSearchingSeekers(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, w := range seekers {
		if w.Lat == nil || w.Lng == nil {
			continue
		}
		s.index.UpsertWatcher(w.CatCode, geo.Watcher{
			ID: w.UserID, Lat: *w.Lat, Lng: *w.Lng, RadiusKm: w.RadiusKm, Sub: w.SubCatCode,
		})
	}
	s.log.WithFields(log.Fields{
		"providers": len(providers),
		"seekers":   len(seekers),
	}).Info("Warmed the discovery index.")
	return nil
}

func (s *Service) userLock(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// SetProviderActive toggles a provider's availability. Repeating identical
// inputs neither writes nor emits events. Crossing the online or offline
// edge, moving across a watching seeker's radius boundary and switching
// categories all fan out to the affected seekers.
func (s *Service) SetProviderActive(ctx context.Context, user *services.User, update ProviderUpdate) (*ToggleResult, error) {
	if user.Role != services.RoleProvider {
		return nil, trace.AccessDenied("only providers can toggle availability")
	}
	if update.Active {
		if err := geo.ValidateCoords(update.Lat, update.Lng); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := s.cfg.Categories.CategoryExists(ctx, update.MainCatCode, update.SubCatCode); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	lock := s.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.cfg.Presence.GetProviderPresence(ctx, user.ID)
	if err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	wasActive := prev != nil && prev.Active

	row := s.buildPresenceRow(user.ID, prev, update)
	if prev != nil && presenceEqual(prev, row) {
		return &ToggleResult{Active: update.Active, WasActive: wasActive}, nil
	}
	if err := s.cfg.Presence.UpsertProviderPresence(ctx, row); err != nil {
		return nil, trace.Wrap(err)
	}

	s.applyProviderEdges(user, prev, row)
	return &ToggleResult{Active: update.Active, WasActive: wasActive}, nil
}

// buildPresenceRow merges a toggle into the previous row. Going offline
// keeps the last known position and categories for audit.
func (s *Service) buildPresenceRow(userID int64, prev *services.ProviderPresence, update ProviderUpdate) *services.ProviderPresence {
	now := s.cfg.Clock.Now().UTC()
	row := &services.ProviderPresence{UserID: userID, Active: update.Active, LastActiveAt: &now}
	if update.Active {
		lat, lng := update.Lat, update.Lng
		row.Lat, row.Lng = &lat, &lng
		row.MainCatCode, row.SubCatCode = update.MainCatCode, update.SubCatCode
		return row
	}
	if prev != nil {
		row.Lat, row.Lng = prev.Lat, prev.Lng
		row.MainCatCode, row.SubCatCode = prev.MainCatCode, prev.SubCatCode
	}
	return row
}

// presenceEqual ignores LastActiveAt, a repeated toggle is identical even
// though time moved.
func presenceEqual(a, b *services.ProviderPresence) bool {
	if a.Active != b.Active || a.MainCatCode != b.MainCatCode || a.SubCatCode != b.SubCatCode {
		return false
	}
	return floatPtrEqual(a.Lat, b.Lat) && floatPtrEqual(a.Lng, b.Lng)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applyProviderEdges updates the index and notifies watching seekers of
// membership changes.
func (s *Service) applyProviderEdges(user *services.User, prev, row *services.ProviderPresence) {
	wasActive := prev != nil && prev.Active

	switch {
	case !wasActive && row.Active:
		position := geo.Provider{ID: user.ID, Lat: *row.Lat, Lng: *row.Lng}
		s.index.UpsertProvider(row.MainCatCode, row.SubCatCode, position)
		s.notifyWatchers("new_provider_available", user, row, position)

	case wasActive && !row.Active:
		s.index.RemoveProvider(prev.MainCatCode, prev.SubCatCode, user.ID)
		lastKnown := geo.Provider{ID: user.ID, Lat: *prev.Lat, Lng: *prev.Lng}
		s.notifyWatchers("provider_went_offline", user, prev, lastKnown)

	case wasActive && row.Active:
		position := geo.Provider{ID: user.ID, Lat: *row.Lat, Lng: *row.Lng}
		if prev.MainCatCode != row.MainCatCode || prev.SubCatCode != row.SubCatCode {
			// A category change is an offline edge in the old shard and
			// an online edge in the new one.
			s.index.RemoveProvider(prev.MainCatCode, prev.SubCatCode, user.ID)
			lastKnown := geo.Provider{ID: user.ID, Lat: *prev.Lat, Lng: *prev.Lng}
			s.notifyWatchers("provider_went_offline", user, prev, lastKnown)
			s.index.UpsertProvider(row.MainCatCode, row.SubCatCode, position)
			s.notifyWatchers("new_provider_available", user, row, position)
			return
		}
		s.index.UpsertProvider(row.MainCatCode, row.SubCatCode, position)
		s.notifyMoved(user, row, geo.Provider{ID: user.ID, Lat: *prev.Lat, Lng: *prev.Lng}, position)
	}
}

// notifyWatchers sends one edge frame to every watcher the position falls
// inside of.
func (s *Service) notifyWatchers(frameType string, user *services.User, row *services.ProviderPresence, position geo.Provider) {
	for _, w := range s.index.MatchingWatchers(row.MainCatCode, row.SubCatCode) {
		if w.ID == user.ID {
			continue
		}
		d := geo.Haversine(w.Lat, w.Lng, position.Lat, position.Lng)
		if d > w.RadiusKm {
			continue
		}
		s.publishEdge(frameType, w.ID, user, row, position, d)
	}
}

// notifyMoved emits edges only to watchers whose radius boundary the move
// crossed.
func (s *Service) notifyMoved(user *services.User, row *services.ProviderPresence, from, to geo.Provider) {
	for _, w := range s.index.MatchingWatchers(row.MainCatCode, row.SubCatCode) {
		if w.ID == user.ID {
			continue
		}
		dOld := geo.Haversine(w.Lat, w.Lng, from.Lat, from.Lng)
		dNew := geo.Haversine(w.Lat, w.Lng, to.Lat, to.Lng)
		switch {
		case dOld > w.RadiusKm && dNew <= w.RadiusKm:
			s.publishEdge("new_provider_available", w.ID, user, row, to, dNew)
		case dOld <= w.RadiusKm && dNew > w.RadiusKm:
			s.publishEdge("provider_went_offline", w.ID, user, row, to, dNew)
		}
	}
}

func (s *Service) publishEdge(frameType string, seekerID int64, user *services.User, row *services.ProviderPresence, position geo.Provider, distanceKm float64) {
	delivered := s.cfg.Bus.Publish(events.UserGroup(seekerID, string(services.RoleSeeker)), events.Event{
		Type: frameType,
		Payload: ProviderEdge{
			Type:        frameType,
			ProviderID:  user.ID,
			Name:        user.DisplayName(),
			Lat:         position.Lat,
			Lng:         position.Lng,
			DistanceKm:  geo.RoundKm(distanceKm),
			Distance:    geo.FormatDistance(distanceKm * 1000),
			MainCatCode: row.MainCatCode,
			SubCatCode:  row.SubCatCode,
		},
	})
	s.log.WithFields(log.Fields{
		"frame":     frameType,
		"provider":  user.ID,
		"seeker":    seekerID,
		"delivered": delivered,
	}).Debug("Published a discovery edge.")
}

// SetSeekerSearch toggles a seeker's discovery search and returns the
// providers currently inside the radius, closest first. Disabling returns
// an empty snapshot.
func (s *Service) SetSeekerSearch(ctx context.Context, user *services.User, update SeekerUpdate) ([]NearbyProvider, error) {
	if user.Role != services.RoleSeeker {
		return nil, trace.AccessDenied("only seekers can toggle discovery")
	}
	if update.Searching {
		if err := geo.ValidateCoords(update.Lat, update.Lng); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := geo.ValidateRadius(update.RadiusKm); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := s.cfg.Categories.CategoryExists(ctx, update.CatCode, update.SubCatCode); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	lock := s.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.cfg.Presence.GetSeekerSearch(ctx, user.ID)
	if err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	now := s.cfg.Clock.Now().UTC()
	row := &services.SeekerSearch{UserID: user.ID, Searching: update.Searching, LastSearchAt: &now}
	if update.Searching {
		lat, lng := update.Lat, update.Lng
		row.Lat, row.Lng = &lat, &lng
		row.CatCode, row.SubCatCode = update.CatCode, update.SubCatCode
		row.RadiusKm = update.RadiusKm
	} else if prev != nil {
		row.Lat, row.Lng = prev.Lat, prev.Lng
		row.CatCode, row.SubCatCode = prev.CatCode, prev.SubCatCode
		row.RadiusKm = prev.RadiusKm
	}

	if prev == nil || !searchEqual(prev, row) {
		if err := s.cfg.Presence.UpsertSeekerSearch(ctx, row); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if prev != nil && prev.Searching && prev.CatCode != row.CatCode {
		s.index.RemoveWatcher(prev.CatCode, user.ID)
	}
	if update.Searching {
		s.index.UpsertWatcher(row.CatCode, geo.Watcher{
			ID: user.ID, Lat: update.Lat, Lng: update.Lng,
			RadiusKm: update.RadiusKm, Sub: update.SubCatCode,
		})
		return s.snapshot(ctx, update.Lat, update.Lng, update.RadiusKm, update.CatCode, update.SubCatCode)
	}
	s.index.RemoveWatcher(row.CatCode, user.ID)
	return []NearbyProvider{}, nil
}

func searchEqual(a, b *services.SeekerSearch) bool {
	if a.Searching != b.Searching || a.CatCode != b.CatCode || a.SubCatCode != b.SubCatCode || a.RadiusKm != b.RadiusKm {
		return false
	}
	return floatPtrEqual(a.Lat, b.Lat) && floatPtrEqual(a.Lng, b.Lng)
}

// SetSearching flips only the searching bit, keeping the index in step.
// Session transitions use it, a seeker with no configured search is a
// no-op.
func (s *Service) SetSearching(ctx context.Context, userID int64, searching bool) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.cfg.Presence.GetSeekerSearch(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	if row.Searching == searching {
		return nil
	}
	if err := s.cfg.Presence.SetSeekerSearching(ctx, userID, searching); err != nil {
		return trace.Wrap(err)
	}
	if searching && row.Lat != nil && row.Lng != nil {
		s.index.UpsertWatcher(row.CatCode, geo.Watcher{
			ID: userID, Lat: *row.Lat, Lng: *row.Lng,
			RadiusKm: row.RadiusKm, Sub: row.SubCatCode,
		})
	} else {
		s.index.RemoveWatcher(row.CatCode, userID)
	}
	return nil
}

// NearbyProviders answers a radius query against the live index.
func (s *Service) NearbyProviders(ctx context.Context, lat, lng, radiusKm float64, main, sub string) ([]NearbyProvider, error) {
	if err := geo.ValidateCoords(lat, lng); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := geo.ValidateRadius(radiusKm); err != nil {
		return nil, trace.Wrap(err)
	}
	return s.snapshot(ctx, lat, lng, radiusKm, main, sub)
}

func (s *Service) snapshot(ctx context.Context, lat, lng, radiusKm float64, main, sub string) ([]NearbyProvider, error) {
	matches := s.index.Nearby(main, sub, lat, lng, radiusKm)
	out := make([]NearbyProvider, 0, len(matches))
	for _, match := range matches {
		name := "VISIBLE user"
		if provider, err := s.cfg.Users.GetUser(ctx, match.ID); err == nil {
			name = provider.DisplayName()
		}
		// A wildcard query spans subcategory shards, resolve each match's
		// subcategory from its presence row.
		subCode := sub
		if sub == "" {
			if presence, err := s.cfg.Presence.GetProviderPresence(ctx, match.ID); err == nil {
				subCode = presence.SubCatCode
			}
		}
		out = append(out, NearbyProvider{
			ProviderID:  match.ID,
			Name:        name,
			Lat:         match.Lat,
			Lng:         match.Lng,
			DistanceKm:  geo.RoundKm(match.DistanceKm),
			Distance:    geo.FormatDistance(match.DistanceKm * 1000),
			MainCatCode: main,
			SubCatCode:  subCode,
		})
	}
	return out, nil
}

// SeekersSearchingForProvider lists the seekers whose search matches the
// provider's categories, regardless of distance. Reverse fan-out filters
// by radius at publish time.
func (s *Service) SeekersSearchingForProvider(ctx context.Context, providerID int64) ([]SeekerWatch, error) {
	row, err := s.cfg.Presence.GetProviderPresence(ctx, providerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	watchers := s.index.MatchingWatchers(row.MainCatCode, row.SubCatCode)
	out := make([]SeekerWatch, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, SeekerWatch{
			SeekerID:   w.ID,
			Lat:        w.Lat,
			Lng:        w.Lng,
			RadiusKm:   w.RadiusKm,
			SubCatCode: w.Sub,
		})
	}
	return out, nil
}

// GetProviderPresence reads one provider's durable presence row.
func (s *Service) GetProviderPresence(ctx context.Context, providerID int64) (*services.ProviderPresence, error) {
	presence, err := s.cfg.Presence.GetProviderPresence(ctx, providerID)
	return presence, trace.Wrap(err)
}
