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
	"regexp"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
)

var codePattern = regexp.MustCompile(`\d{6}`)

type captureSender struct {
	mobile string
	text   string
	sends  int
}

func (c *captureSender) SendSMS(ctx context.Context, mobile, text string) error {
	c.mobile = mobile
	c.text = text
	c.sends++
	return nil
}

func (c *captureSender) code(t *testing.T) string {
	code := codePattern.FindString(c.text)
	require.NotEmpty(t, code, "sms text %q carries no code", c.text)
	return code
}

type otpFixture struct {
	otp    *OTPService
	store  services.Store
	sender *captureSender
	clock  clockwork.FakeClock
}

func newOTPFixture(t *testing.T) *otpFixture {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	tokens, err := NewAccessTokenService(TokenConfig{
		SigningKey: []byte("test-signing-key"),
		Users:      store,
		Clock:      clock,
	})
	require.NoError(t, err)

	sender := &captureSender{}
	otp, err := NewOTPService(OTPConfig{
		Users:    store,
		Orders:   store,
		Presence: store,
		Tokens:   tokens,
		Sender:   sender,
		Clock:    clock,
	})
	require.NoError(t, err)
	return &otpFixture{otp: otp, store: store, sender: sender, clock: clock}
}

func TestOTPFirstLogin(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	challenge, err := f.otp.SendOTP(ctx, "9876543210")
	require.NoError(t, err)
	require.Equal(t, "+919876543210", challenge.Mobile)
	require.Equal(t, "+919876543210", f.sender.mobile)
	require.Equal(t, 300, challenge.ExpiresIn)

	result, err := f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), services.RoleProvider)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, services.RoleProvider, result.User.Role)
	require.True(t, result.User.Verified)
	require.NotEmpty(t, result.Token)

	// The code is consumed on success.
	_, err = f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), "")
	require.True(t, trace.IsAccessDenied(err))
}

func TestOTPWrongCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)

	_, err = f.otp.VerifyOTP(ctx, "+919876543210", "000000", "")
	require.True(t, trace.IsAccessDenied(err))

	// A few wrong guesses do not consume the code.
	result, err := f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), "")
	require.NoError(t, err)
	require.True(t, result.Created)
}

func TestOTPGuessLimit(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)

	for i := 0; i < maxOTPAttempts; i++ {
		_, err = f.otp.VerifyOTP(ctx, "+919876543210", "000000", "")
		require.True(t, trace.IsAccessDenied(err))
	}

	// The correct code no longer works, the entry was consumed.
	_, err = f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), "")
	require.True(t, trace.IsAccessDenied(err))
}

func TestOTPExpiry(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	code := f.sender.code(t)

	f.clock.Advance(6 * time.Minute)
	_, err = f.otp.VerifyOTP(ctx, "+919876543210", code, "")
	require.True(t, trace.IsAccessDenied(err))
}

func TestOTPResendThrottle(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)

	_, err = f.otp.SendOTP(ctx, "+919876543210")
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, 1, f.sender.sends)

	f.clock.Advance(31 * time.Second)
	_, err = f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	require.Equal(t, 2, f.sender.sends)
}

func TestOTPInvalidMobile(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "")
	require.True(t, trace.IsBadParameter(err))

	_, err = f.otp.SendOTP(ctx, "12")
	require.True(t, trace.IsBadParameter(err))
}

func TestOTPRoleSwitch(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	// First login creates a seeker.
	_, err := f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	result, err := f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), services.RoleSeeker)
	require.NoError(t, err)
	seeker := result.User

	f.clock.Advance(time.Minute)

	// Relogin as provider with nothing open switches the account.
	_, err = f.otp.SendOTP(ctx, "+919876543210")
	require.NoError(t, err)
	result, err = f.otp.VerifyOTP(ctx, "+919876543210", f.sender.code(t), services.RoleProvider)
	require.NoError(t, err)
	require.False(t, result.Created)
	require.Equal(t, services.RoleProvider, result.User.Role)

	stored, err := f.store.GetUser(ctx, seeker.ID)
	require.NoError(t, err)
	require.Equal(t, services.RoleProvider, stored.Role)
}

func TestOTPRoleSwitchGates(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	provider, err := f.store.CreateUser(ctx, &services.User{
		Mobile: "+919876543210", Role: services.RoleProvider, Verified: true,
	})
	require.NoError(t, err)
	seeker, err := f.store.CreateUser(ctx, &services.User{
		Mobile: "+919876543211", Role: services.RoleSeeker, Verified: true,
	})
	require.NoError(t, err)

	t.Run("open work order", func(t *testing.T) {
		_, err := f.store.CreateWorkOrder(ctx, &services.WorkOrder{
			SeekerID: seeker.ID, ProviderID: provider.ID, ServiceType: "Plumbing",
		})
		require.NoError(t, err)

		_, err = f.otp.SendOTP(ctx, provider.Mobile)
		require.NoError(t, err)
		_, err = f.otp.VerifyOTP(ctx, provider.Mobile, f.sender.code(t), services.RoleSeeker)
		require.True(t, trace.IsCompareFailed(err))
	})

	t.Run("provider still online", func(t *testing.T) {
		lat, lng := 11.2588, 75.8577
		other, err := f.store.CreateUser(ctx, &services.User{
			Mobile: "+919876543212", Role: services.RoleProvider, Verified: true,
		})
		require.NoError(t, err)
		require.NoError(t, f.store.UpsertProviderPresence(ctx, &services.ProviderPresence{
			UserID: other.ID, Active: true, Lat: &lat, Lng: &lng,
			MainCatCode: "MS0001", SubCatCode: "SS0001",
		}))

		f.clock.Advance(time.Minute)
		_, err = f.otp.SendOTP(ctx, other.Mobile)
		require.NoError(t, err)
		_, err = f.otp.VerifyOTP(ctx, other.Mobile, f.sender.code(t), services.RoleSeeker)
		require.True(t, trace.IsCompareFailed(err))
	})
}
