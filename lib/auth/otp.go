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

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// maxOTPAttempts consumes the code after this many wrong guesses.
const maxOTPAttempts = 5

// SMSSender delivers one-time codes to phones. Production wires a real
// gateway, the default logs codes for development.
type SMSSender interface {
	SendSMS(ctx context.Context, mobile, text string) error
}

type logSender struct {
	log *log.Entry
}

func (s logSender) SendSMS(ctx context.Context, mobile, text string) error {
	s.log.WithField("mobile", mobile).Infof("SMS: %v", text)
	return nil
}

// OTPConfig holds login flow options.
type OTPConfig struct {
	// Users is the account repository.
	Users services.UserStore
	// Orders gates role switching on open work.
	Orders services.WorkOrderStore
	// Presence gates role switching on provider visibility.
	Presence services.PresenceStore
	// Tokens mints the bearer token on successful verification.
	Tokens *AccessTokenService
	// Sender delivers codes, nil logs them.
	Sender SMSSender
	// Region resolves national numbers, E.164 input works regardless.
	Region string
	// CodeTTL bounds code validity.
	CodeTTL time.Duration
	// ResendInterval throttles repeated sends to one mobile.
	ResendInterval time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *OTPConfig) CheckAndSetDefaults() error {
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Orders == nil {
		return trace.BadParameter("missing parameter Orders")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Tokens == nil {
		return trace.BadParameter("missing parameter Tokens")
	}
	if c.Sender == nil {
		logger := log.WithFields(log.Fields{trace.Component: visible.ComponentAuth})
		logger.Warn("No SMS gateway configured, one-time codes will be logged.")
		c.Sender = logSender{log: logger}
	}
	if c.Region == "" {
		c.Region = "IN"
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = defaults.OTPTTL
	}
	if c.ResendInterval == 0 {
		c.ResendInterval = defaults.OTPResendInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// OTPChallenge is the response to a code request.
type OTPChallenge struct {
	// Mobile is the E.164 normalized number the code went to.
	Mobile string `json:"mobile"`
	// ExpiresIn is the code validity window in seconds.
	ExpiresIn int `json:"expires_in"`
	// ResendAfter is the resend throttle in seconds.
	ResendAfter int `json:"resend_after"`
}

// AuthResult is the outcome of a successful verification.
type AuthResult struct {
	User *services.User `json:"user"`
	// Token is the bearer token for the HTTP API and websockets.
	Token string `json:"access_token"`
	// Created reports whether this login created the account.
	Created bool `json:"created"`
}

type otpEntry struct {
	code     string
	issuedAt time.Time
	attempts int
}

// OTPService runs the login flow: code request, verification, account
// creation and the role switch gate.
type OTPService struct {
	cfg   OTPConfig
	codes *gocache.Cache
	log   *log.Entry
}

// NewOTPService builds the login service.
func NewOTPService(cfg OTPConfig) (*OTPService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &OTPService{
		cfg: cfg,
		// Validity is checked against cfg.Clock, the cache TTL only
		// garbage collects abandoned entries.
		codes: gocache.New(2*cfg.CodeTTL, 2*cfg.CodeTTL),
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentAuth,
		}),
	}, nil
}

// SendOTP generates a code for the mobile number and delivers it through
// the configured sender. Requests inside the resend window are rejected
// with trace.LimitExceeded.
func (s *OTPService) SendOTP(ctx context.Context, mobile string) (*OTPChallenge, error) {
	normalized, err := s.normalize(mobile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now()
	if v, ok := s.codes.Get(normalized); ok {
		entry := v.(otpEntry)
		if wait := s.cfg.ResendInterval - now.Sub(entry.issuedAt); wait > 0 {
			return nil, trace.LimitExceeded(
				"a code was already sent, retry in %v seconds", int(wait.Seconds())+1)
		}
	}
	code, err := generateCode(defaults.OTPLength)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.codes.Set(normalized, otpEntry{code: code, issuedAt: now}, gocache.DefaultExpiration)

	text := fmt.Sprintf("Your VISIBLE verification code is %v", code)
	if err := s.cfg.Sender.SendSMS(ctx, normalized, text); err != nil {
		s.codes.Delete(normalized)
		return nil, trace.Wrap(err, "delivering verification code")
	}
	s.log.WithField("mobile", normalized).Info("Sent a verification code.")
	return &OTPChallenge{
		Mobile:      normalized,
		ExpiresIn:   int(s.cfg.CodeTTL.Seconds()),
		ResendAfter: int(s.cfg.ResendInterval.Seconds()),
	}, nil
}

// VerifyOTP consumes a valid code, creating the account on first login
// and minting the bearer token. A non empty role selects the marketplace
// side, switching an existing account is gated on open work.
func (s *OTPService) VerifyOTP(ctx context.Context, mobile, code string, role services.Role) (*AuthResult, error) {
	normalized, err := s.normalize(mobile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if role != "" {
		if err := role.Validate(); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := s.consumeCode(normalized, code); err != nil {
		return nil, trace.Wrap(err)
	}

	created := false
	user, err := s.cfg.Users.GetUserByMobile(ctx, normalized)
	switch {
	case trace.IsNotFound(err):
		user, err = s.cfg.Users.CreateUser(ctx, &services.User{
			Mobile:   normalized,
			Role:     role,
			Verified: true,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		created = true
		s.log.WithFields(log.Fields{
			"user": user.ID,
			"role": user.Role,
		}).Info("Created an account on first login.")
	case err != nil:
		return nil, trace.Wrap(err)
	default:
		if role != "" && role != user.Role {
			if err := s.switchRole(ctx, user, role); err != nil {
				return nil, trace.Wrap(err)
			}
		}
	}

	token, err := s.cfg.Tokens.IssueToken(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &AuthResult{User: user, Token: token, Created: created}, nil
}

// consumeCode validates one guess against the stored entry. The entry is
// deleted on success, expiry and after too many wrong guesses.
func (s *OTPService) consumeCode(mobile, code string) error {
	v, ok := s.codes.Get(mobile)
	if !ok {
		return trace.AccessDenied("invalid or expired verification code")
	}
	entry := v.(otpEntry)
	if s.cfg.Clock.Now().Sub(entry.issuedAt) > s.cfg.CodeTTL {
		s.codes.Delete(mobile)
		return trace.AccessDenied("invalid or expired verification code")
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		entry.attempts++
		if entry.attempts >= maxOTPAttempts {
			s.codes.Delete(mobile)
		} else {
			s.codes.Set(mobile, entry, gocache.DefaultExpiration)
		}
		return trace.AccessDenied("invalid or expired verification code")
	}
	s.codes.Delete(mobile)
	return nil
}

// switchRole moves an account to the other marketplace side. It is
// rejected while the user is party to open work or visible as a provider.
func (s *OTPService) switchRole(ctx context.Context, user *services.User, role services.Role) error {
	open, err := s.cfg.Orders.HasOpenWorkOrder(ctx, user.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if open {
		return trace.CompareFailed("cannot switch roles with an open work order")
	}
	if user.Role == services.RoleProvider {
		presence, err := s.cfg.Presence.GetProviderPresence(ctx, user.ID)
		if err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
		if err == nil && presence.Active {
			return trace.CompareFailed("go offline before switching roles")
		}
	}
	if err := s.cfg.Users.UpdateUserRole(ctx, user.ID, role); err != nil {
		return trace.Wrap(err)
	}
	user.Role = role
	s.log.WithFields(log.Fields{
		"user": user.ID,
		"role": role,
	}).Info("Switched account role.")
	return nil
}

func (s *OTPService) normalize(mobile string) (string, error) {
	if mobile == "" {
		return "", trace.BadParameter("missing parameter mobile")
	}
	number, err := libphonenumber.Parse(mobile, s.cfg.Region)
	if err != nil {
		return "", trace.BadParameter("invalid mobile number: %v", err)
	}
	if !libphonenumber.IsValidNumber(number) {
		return "", trace.BadParameter("invalid mobile number")
	}
	return libphonenumber.Format(number, libphonenumber.E164), nil
}

func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", trace.Wrap(err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
