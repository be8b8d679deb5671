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

// Package auth issues and verifies bearer tokens and runs the OTP login
// flow that creates accounts.
package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// TokenConfig holds access token options.
type TokenConfig struct {
	// SigningKey is the HMAC secret shared by all gateway replicas.
	SigningKey []byte
	// TTL bounds token lifetime.
	TTL time.Duration
	// Users resolves token subjects to accounts.
	Users services.UserStore
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *TokenConfig) CheckAndSetDefaults() error {
	if len(c.SigningKey) == 0 {
		return trace.BadParameter("missing parameter SigningKey")
	}
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.TTL == 0 {
		c.TTL = defaults.AccessTokenTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// sessionClaims is the JWT payload. The role claim reflects the role at
// issue time, the account's current role wins after a switch.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AccessTokenService mints and verifies the HS256 bearer tokens both the
// HTTP API and the websocket endpoints authenticate with.
type AccessTokenService struct {
	cfg TokenConfig
}

// NewAccessTokenService builds a token service.
func NewAccessTokenService(cfg TokenConfig) (*AccessTokenService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AccessTokenService{cfg: cfg}, nil
}

// IssueToken mints a signed bearer token for the user.
func (s *AccessTokenService) IssueToken(user *services.User) (string, error) {
	if user == nil || user.ID == 0 {
		return "", trace.BadParameter("cannot issue a token without a user")
	}
	now := s.cfg.Clock.Now()
	claims := sessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "visible",
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	return signed, trace.Wrap(err)
}

// Authenticate verifies a raw bearer token and resolves the account. Any
// parse, signature or claims failure comes back as trace.AccessDenied.
func (s *AccessTokenService) Authenticate(ctx context.Context, raw string) (*services.User, error) {
	if raw == "" {
		return nil, trace.AccessDenied("missing bearer token")
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return s.cfg.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, trace.AccessDenied("invalid bearer token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, trace.AccessDenied("invalid bearer token")
	}
	user, err := s.cfg.Users.GetUser(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.AccessDenied("invalid bearer token")
		}
		return nil, trace.Wrap(err)
	}
	return user, nil
}
