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

	"github.com/imrandevop/VISIBLE-sub000/lib/geo"
)

// ProviderPresence is the provider side availability record. Geo fields
// are nil until the provider toggles active for the first time.
type ProviderPresence struct {
	UserID       int64      `json:"user_id" db:"user_id"`
	Active       bool       `json:"active" db:"active"`
	Lat          *float64   `json:"lat,omitempty" db:"lat"`
	Lng          *float64   `json:"lng,omitempty" db:"lng"`
	MainCatCode  string     `json:"main_cat_code" db:"main_cat_code"`
	SubCatCode   string     `json:"sub_cat_code" db:"sub_cat_code"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty" db:"last_active_at"`
}

// CheckAndSetDefaults validates the presence record. An active presence
// requires finite coordinates and category codes.
func (p *ProviderPresence) CheckAndSetDefaults() error {
	if p.UserID == 0 {
		return trace.BadParameter("missing parameter UserID")
	}
	if !p.Active {
		return nil
	}
	if p.Lat == nil || p.Lng == nil {
		return trace.BadParameter("active presence requires coordinates")
	}
	if err := geo.ValidateCoords(*p.Lat, *p.Lng); err != nil {
		return trace.Wrap(err)
	}
	if p.MainCatCode == "" || p.SubCatCode == "" {
		return trace.BadParameter("active presence requires category codes")
	}
	return nil
}

// SeekerSearch is the seeker side discovery record.
type SeekerSearch struct {
	UserID       int64      `json:"user_id" db:"user_id"`
	Searching    bool       `json:"searching" db:"searching"`
	Lat          *float64   `json:"lat,omitempty" db:"lat"`
	Lng          *float64   `json:"lng,omitempty" db:"lng"`
	CatCode      string     `json:"cat_code" db:"cat_code"`
	SubCatCode   string     `json:"sub_cat_code" db:"sub_cat_code"`
	RadiusKm     float64    `json:"radius_km" db:"radius_km"`
	LastSearchAt *time.Time `json:"last_search_at,omitempty" db:"last_search_at"`
}

// CheckAndSetDefaults validates the search record. An enabled search
// requires coordinates, a main category and a radius inside the allowed
// band.
func (s *SeekerSearch) CheckAndSetDefaults() error {
	if s.UserID == 0 {
		return trace.BadParameter("missing parameter UserID")
	}
	if !s.Searching {
		return nil
	}
	if s.Lat == nil || s.Lng == nil {
		return trace.BadParameter("active search requires coordinates")
	}
	if err := geo.ValidateCoords(*s.Lat, *s.Lng); err != nil {
		return trace.Wrap(err)
	}
	if s.CatCode == "" {
		return trace.BadParameter("active search requires a category code")
	}
	return trace.Wrap(geo.ValidateRadius(s.RadiusKm))
}
