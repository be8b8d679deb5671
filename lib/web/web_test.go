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

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/auth"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
	"github.com/imrandevop/VISIBLE-sub000/lib/srv"
	"github.com/imrandevop/VISIBLE-sub000/lib/work"
)

var otpPattern = regexp.MustCompile(`\d{6}`)

// smsRecorder captures delivered login codes keyed by mobile.
type smsRecorder struct {
	mu    sync.Mutex
	texts map[string]string
}

func (s *smsRecorder) SendSMS(ctx context.Context, mobile, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texts == nil {
		s.texts = make(map[string]string)
	}
	s.texts[mobile] = text
	return nil
}

func (s *smsRecorder) code(t *testing.T, mobile string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	code := otpPattern.FindString(s.texts[mobile])
	require.NotEmpty(t, code, "no code delivered to %v", mobile)
	return code
}

type testEnv struct {
	clock    clockwork.FakeClock
	store    *memory.Store
	bus      *events.Bus
	presence *presence.Service
	work     *work.Service
	registry *srv.Registry
	tokens   *auth.AccessTokenService
	sms      *smsRecorder
	handler  *Handler
	server   *httptest.Server

	seeker   *services.User
	provider *services.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	store, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, store.SeedCategories(ctx, services.DefaultCategories()))
	bus, err := events.NewBus(events.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	presenceSvc, err := presence.New(ctx, presence.Config{
		Users: store, Presence: store, Categories: store, Bus: bus, Clock: clock,
	})
	require.NoError(t, err)

	workSvc, err := work.New(work.Config{
		Users: store, Orders: store, Sessions: store, Audit: store,
		Categories: store, Presence: presenceSvc, Bus: bus, Clock: clock,
	})
	require.NoError(t, err)

	registry, err := srv.NewRegistry(srv.Config{
		Users: store, Sessions: store, Messages: store,
		Orders: workSvc, Presence: presenceSvc, Bus: bus, Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	workSvc.SetSessionRegistry(registry)

	tokens, err := auth.NewAccessTokenService(auth.TokenConfig{
		SigningKey: []byte("gateway-test-key"), Users: store, Clock: clock,
	})
	require.NoError(t, err)
	sms := &smsRecorder{}
	otp, err := auth.NewOTPService(auth.OTPConfig{
		Users: store, Orders: store, Presence: store,
		Tokens: tokens, Sender: sms, Clock: clock,
	})
	require.NoError(t, err)

	handler, err := NewHandler(Config{
		Auth: otp, Tokens: tokens, Presence: presenceSvc, Work: workSvc,
		Registry: registry, Users: store, Categories: store, Bus: bus, Clock: clock,
	})
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	env := &testEnv{
		clock: clock, store: store, bus: bus,
		presence: presenceSvc, work: workSvc, registry: registry,
		tokens: tokens, sms: sms, handler: handler, server: server,
	}
	name := "Asha"
	env.seeker, err = store.CreateUser(ctx, &services.User{
		Mobile: "+911000000010", Role: services.RoleSeeker, Name: &name, Verified: true,
	})
	require.NoError(t, err)
	env.provider, err = store.CreateUser(ctx, &services.User{
		Mobile: "+911000000001", Role: services.RoleProvider, Verified: true,
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) token(t *testing.T, user *services.User) string {
	t.Helper()
	token, err := e.tokens.IssueToken(user)
	require.NoError(t, err)
	return token
}

// do runs one JSON request against the test server and returns the
// status code and raw body.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, payload
}

func decode(t *testing.T, payload []byte, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(payload, target))
}

// goOnline puts a provider on the map offering plumbing.
func (e *testEnv) goOnline(t *testing.T, provider *services.User, lat, lng float64) {
	t.Helper()
	_, err := e.presence.SetProviderActive(context.Background(), provider, presence.ProviderUpdate{
		Active: true, Lat: lat, Lng: lng, MainCatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.NoError(t, err)
}

func TestHealthAndCatalog(t *testing.T) {
	env := newTestEnv(t)

	code, payload := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ok"}`, string(payload))

	code, payload = env.do(t, http.MethodGet, "/api/1/work-categories/", "", nil)
	require.Equal(t, http.StatusOK, code)
	var catalog categoriesResponse
	decode(t, payload, &catalog)
	require.Len(t, catalog.Categories, 3)
	require.Equal(t, "MS0001", catalog.Categories[0].Code)
	require.Len(t, catalog.Categories[0].Subcategories, 4)

	code, payload = env.do(t, http.MethodGet, "/api/1/no-such-endpoint", "", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Contains(t, string(payload), "not recognized")
}

func TestOTPLogin(t *testing.T) {
	env := newTestEnv(t)

	code, payload := env.do(t, http.MethodPost, "/api/1/authentication/send-otp", "",
		map[string]string{"mobile": "9876543210"})
	require.Equal(t, http.StatusOK, code)
	var challenge auth.OTPChallenge
	decode(t, payload, &challenge)
	require.Equal(t, "+919876543210", challenge.Mobile)
	require.Equal(t, 300, challenge.ExpiresIn)

	// Resends inside the throttle window are rejected.
	code, _ = env.do(t, http.MethodPost, "/api/1/authentication/send-otp", "",
		map[string]string{"mobile": "9876543210"})
	require.Equal(t, http.StatusTooManyRequests, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/authentication/verify-otp", "",
		map[string]string{"mobile": "9876543210", "code": "000000", "role": "seeker"})
	require.Equal(t, http.StatusForbidden, code)

	otp := env.sms.code(t, "+919876543210")
	code, payload = env.do(t, http.MethodPost, "/api/1/authentication/verify-otp", "",
		map[string]string{"mobile": "9876543210", "code": otp, "role": "seeker"})
	require.Equal(t, http.StatusOK, code)
	var result auth.AuthResult
	decode(t, payload, &result)
	require.True(t, result.Created)
	require.NotEmpty(t, result.Token)
	require.Equal(t, services.RoleSeeker, result.User.Role)

	// The minted token opens authenticated routes.
	code, _ = env.do(t, http.MethodGet, "/api/1/profiles/work-orders", result.Token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/authentication/send-otp", "",
		map[string]string{"mobile": "not-a-number"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/1/profiles/work-orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/1/profiles/work-orders", "not.a.token", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/1/profiles/work-orders", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Service level role gates answer 403, not 401.
	code, _ = env.do(t, http.MethodGet, "/api/1/profiles/provider/dashboard",
		env.token(t, env.seeker), nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestProviderToggleAndSeekerSearch(t *testing.T) {
	env := newTestEnv(t)
	providerToken := env.token(t, env.provider)
	seekerToken := env.token(t, env.seeker)

	code, payload := env.do(t, http.MethodPost, "/api/1/location/provider/toggle-status", providerToken,
		map[string]interface{}{
			"active": true, "lat": 11.2590, "lng": 75.8580,
			"main_cat_code": "MS0001", "sub_cat_code": "SS0001",
		})
	require.Equal(t, http.StatusOK, code)
	var toggle presence.ToggleResult
	decode(t, payload, &toggle)
	require.True(t, toggle.Active)
	require.False(t, toggle.WasActive)

	// A second provider far outside the search radius.
	far, err := env.store.CreateUser(context.Background(), &services.User{
		Mobile: "+911000000002", Role: services.RoleProvider,
	})
	require.NoError(t, err)
	env.goOnline(t, far, 11.3000, 75.9000)

	code, payload = env.do(t, http.MethodPost, "/api/1/location/seeker/search-toggle", seekerToken,
		map[string]interface{}{
			"searching": true, "lat": 11.2588, "lng": 75.8577,
			"cat_code": "MS0001", "sub_cat_code": "SS0001", "radius_km": 5,
		})
	require.Equal(t, http.StatusOK, code)
	var search seekerSearchResponse
	decode(t, payload, &search)
	require.True(t, search.Searching)
	require.Len(t, search.Providers, 1)
	require.Equal(t, env.provider.ID, search.Providers[0].ProviderID)
	require.Equal(t, 0.04, search.Providers[0].DistanceKm)
	require.Equal(t, "40 meters away", search.Providers[0].Distance)

	// Validation failures and role gates.
	code, _ = env.do(t, http.MethodPost, "/api/1/location/provider/toggle-status", providerToken,
		map[string]interface{}{"active": true, "lat": 91.0, "lng": 75.0, "main_cat_code": "MS0001", "sub_cat_code": "SS0001"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/location/seeker/search-toggle", seekerToken,
		map[string]interface{}{"searching": true, "lat": 11.0, "lng": 75.0, "cat_code": "MS0001", "sub_cat_code": "SS0001", "radius_km": 0})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/location/seeker/search-toggle", seekerToken,
		map[string]interface{}{"searching": true, "lat": 11.0, "lng": 75.0, "cat_code": "MS0001", "sub_cat_code": "SS0001", "radius_km": 51})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/location/seeker/search-toggle", providerToken,
		map[string]interface{}{"searching": true, "lat": 11.0, "lng": 75.0, "cat_code": "MS0001", "sub_cat_code": "SS0001", "radius_km": 5})
	require.Equal(t, http.StatusForbidden, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/location/provider/toggle-status", providerToken,
		map[string]interface{}{"lat": 11.0, "lng": 75.0})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAssignWorkOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.goOnline(t, env.provider, 11.2590, 75.8580)
	seekerToken := env.token(t, env.seeker)
	providerToken := env.token(t, env.provider)

	assignReq := map[string]interface{}{
		"provider_id": env.provider.ID, "service_type": "Plumbing",
		"main_cat_code": "MS0001", "sub_cat_code": "SS0001",
		"message": "Kitchen sink is leaking", "seeker_lat": 11.2588, "seeker_lng": 75.8577,
	}
	code, payload := env.do(t, http.MethodPost, "/api/1/profiles/assign-work", seekerToken, assignReq)
	require.Equal(t, http.StatusCreated, code)
	var result work.AssignResult
	decode(t, payload, &result)
	require.NotZero(t, result.OrderID)
	require.False(t, result.FCMSent)
	require.False(t, result.WSSent)

	// One pending order per pair.
	code, _ = env.do(t, http.MethodPost, "/api/1/profiles/assign-work", seekerToken, assignReq)
	require.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/profiles/assign-work", seekerToken,
		map[string]interface{}{"provider_id": 99999, "service_type": "Plumbing", "main_cat_code": "MS0001"})
	require.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/1/profiles/assign-work", seekerToken,
		map[string]interface{}{"provider_id": env.provider.ID, "service_type": "Plumbing"})
	require.Equal(t, http.StatusBadRequest, code)

	code, payload = env.do(t, http.MethodGet, "/api/1/profiles/work-orders?status=pending", providerToken, nil)
	require.Equal(t, http.StatusOK, code)
	var listing workOrdersResponse
	decode(t, payload, &listing)
	require.Len(t, listing.Orders, 1)
	require.Equal(t, result.OrderID, listing.Orders[0].ID)
	require.Equal(t, services.OrderPending, listing.Orders[0].Status)

	code, _ = env.do(t, http.MethodGet, "/api/1/profiles/work-orders?status=haunted", providerToken, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodGet, "/api/1/profiles/work-orders?limit=abc", providerToken, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, payload = env.do(t, http.MethodGet, "/api/1/profiles/work-orders?status=completed", seekerToken, nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, payload, &listing)
	require.Empty(t, listing.Orders)
}

func TestFCMTokenRegistration(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.seeker)

	code, payload := env.do(t, http.MethodPost, "/api/1/profiles/fcm-token", token,
		map[string]string{"fcm_token": "device-token-1"})
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ok"}`, string(payload))

	stored, err := env.store.GetUser(context.Background(), env.seeker.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FCMToken)
	require.Equal(t, "device-token-1", *stored.FCMToken)

	// An empty token unregisters the device.
	code, _ = env.do(t, http.MethodPost, "/api/1/profiles/fcm-token", token,
		map[string]string{"fcm_token": ""})
	require.Equal(t, http.StatusOK, code)
	stored, err = env.store.GetUser(context.Background(), env.seeker.ID)
	require.NoError(t, err)
	require.Nil(t, stored.FCMToken)
}

func TestProviderDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.goOnline(t, env.provider, 11.2590, 75.8580)
	providerToken := env.token(t, env.provider)

	code, payload := env.do(t, http.MethodGet, "/api/1/profiles/provider/dashboard", providerToken, nil)
	require.Equal(t, http.StatusOK, code)
	var empty services.ProviderDashboard
	decode(t, payload, &empty)
	require.Zero(t, empty.Pending)

	_, err := env.work.Assign(context.Background(), env.seeker, work.AssignRequest{
		ProviderID: env.provider.ID, ServiceType: "Plumbing",
		MainCatCode: "MS0001", SubCatCode: "SS0001",
	})
	require.NoError(t, err)

	code, payload = env.do(t, http.MethodGet, "/api/1/profiles/provider/dashboard", providerToken, nil)
	require.Equal(t, http.StatusOK, code)
	var dashboard services.ProviderDashboard
	decode(t, payload, &dashboard)
	require.Equal(t, int64(1), dashboard.Pending)
}
