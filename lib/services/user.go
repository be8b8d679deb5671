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

// Package services defines the domain model of the marketplace and the
// narrow repository interfaces the rest of the code talks to. Concrete
// stores live in services/mysql and services/memory.
package services

import (
	"time"

	"github.com/gravitational/trace"
)

// Role is the side of the marketplace a user acts on.
type Role string

const (
	// RoleSeeker is a user looking for a service
	RoleSeeker Role = "seeker"
	// RoleProvider is a user offering services
	RoleProvider Role = "provider"
	// RoleAdmin is reserved for operational tooling
	RoleAdmin Role = "admin"
)

// Validate returns an error if the role is not one of the known values.
func (r Role) Validate() error {
	switch r {
	case RoleSeeker, RoleProvider, RoleAdmin:
		return nil
	}
	return trace.BadParameter("unsupported role %q", string(r))
}

// Counterpart returns the opposite side of a two party session.
func (r Role) Counterpart() Role {
	if r == RoleSeeker {
		return RoleProvider
	}
	return RoleSeeker
}

// User is an account created on first OTP success.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Mobile   string `json:"mobile" db:"mobile"`
	Role     Role   `json:"role" db:"role"`
	Verified bool   `json:"verified" db:"verified"`
	// Name is optional profile data carried in push payloads.
	Name *string `json:"name,omitempty" db:"name"`
	// FCMToken is the registered mobile push token, nil until the
	// client registers one and cleared on permanent delivery errors.
	FCMToken  *string   `json:"-" db:"fcm_token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CheckAndSetDefaults validates the user record.
func (u *User) CheckAndSetDefaults() error {
	if u.Mobile == "" {
		return trace.BadParameter("missing parameter Mobile")
	}
	if u.Role == "" {
		u.Role = RoleSeeker
	}
	return trace.Wrap(u.Role.Validate())
}

// DisplayName returns the profile name or a generic fallback for push
// payloads.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return "VISIBLE user"
}
