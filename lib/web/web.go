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

// Package web is the client facing edge of the server: the versioned
// HTTP API under /api/1/ and the two websocket channels the mobile apps
// hold open, /ws/location/ for discovery and /ws/work/ for live
// sessions. The gateway authenticates, validates frame shapes and routes
// to the services, it never owns business state itself.
package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/auth"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/httplib"
	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/srv"
	"github.com/imrandevop/VISIBLE-sub000/lib/utils"
	"github.com/imrandevop/VISIBLE-sub000/lib/work"
)

// Config holds the gateway dependencies.
type Config struct {
	// Auth runs the OTP login flow.
	Auth *auth.OTPService
	// Tokens verifies bearer tokens on every authenticated surface.
	Tokens *auth.AccessTokenService
	// Presence serves discovery toggles and snapshots.
	Presence *presence.Service
	// Work owns the order lifecycle.
	Work *work.Service
	// Registry resolves live sessions for the work channel.
	Registry *srv.Registry
	// Users stores device push tokens.
	Users services.UserStore
	// Categories serves the service catalog.
	Categories services.CategoryStore
	// Bus is the event feed websocket connections subscribe to.
	Bus *events.Bus
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Auth == nil {
		return trace.BadParameter("missing parameter Auth")
	}
	if c.Tokens == nil {
		return trace.BadParameter("missing parameter Tokens")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Work == nil {
		return trace.BadParameter("missing parameter Work")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
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

// Handler is the gateway HTTP handler.
type Handler struct {
	httprouter.Router
	cfg Config
	log *log.Entry
}

// NewHandler builds the gateway and registers all routes.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(connectedClients); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg: cfg,
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentGateway,
		}),
	}

	h.POST("/api/1/authentication/send-otp", httplib.MakeHandler(h.sendOTP))
	h.POST("/api/1/authentication/verify-otp", httplib.MakeHandler(h.verifyOTP))

	h.POST("/api/1/location/provider/toggle-status", h.withAuth(h.toggleProviderStatus))
	h.POST("/api/1/location/seeker/search-toggle", h.withAuth(h.toggleSeekerSearch))

	h.POST("/api/1/profiles/assign-work", h.withAuth(h.assignWork))
	h.GET("/api/1/profiles/work-orders", h.withAuth(h.listWorkOrders))
	h.POST("/api/1/profiles/fcm-token", h.withAuth(h.registerFCMToken))
	h.GET("/api/1/profiles/provider/dashboard", h.withAuth(h.providerDashboard))

	h.GET("/api/1/work-categories/", httplib.MakeHandler(h.listCategories))
	h.GET("/healthz", httplib.MakeHandler(h.health))

	h.GET("/ws/location/:role/", h.locationSocket)
	h.GET("/ws/work/:role/", h.workSocket)

	h.Router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httplib.ReplyError(w, trace.NotFound("endpoint %v %v is not recognized", r.Method, r.URL.Path))
	})
	return h, nil
}

// authedHandler is an HTTP handler that runs behind the bearer token
// check.
type authedHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error)

// withAuth resolves the bearer token before the handler runs. Token
// failures answer 401, unlike the 403 role gates inside the services.
func (h *Handler) withAuth(fn authedHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		user, err := h.authenticate(r)
		if err != nil {
			h.log.WithError(err).Debug("Rejected an unauthenticated request.")
			roundtrip.ReplyJSON(w, http.StatusUnauthorized, &httplib.ErrorBody{
				Error: httplib.ErrorMessage{Message: trace.UserMessage(err)},
			})
			return
		}
		out, err := fn(w, r, p, user)
		if err != nil {
			httplib.ReplyError(w, err)
			return
		}
		if out != nil {
			roundtrip.ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// authenticate resolves the caller from the Authorization header, with a
// query fallback for websocket clients that cannot set upgrade headers.
func (h *Handler) authenticate(r *http.Request) (*services.User, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := h.cfg.Tokens.Authenticate(r.Context(), token)
	return user, trace.Wrap(err)
}

func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", trace.AccessDenied("malformed authorization header")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", trace.AccessDenied("missing bearer token")
}

type sendOTPReq struct {
	Mobile string `json:"mobile"`
}

func (h *Handler) sendOTP(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req sendOTPReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	challenge, err := h.cfg.Auth.SendOTP(r.Context(), req.Mobile)
	return challenge, trace.Wrap(err)
}

type verifyOTPReq struct {
	Mobile string        `json:"mobile"`
	Code   string        `json:"code"`
	Role   services.Role `json:"role"`
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req verifyOTPReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.Auth.VerifyOTP(r.Context(), req.Mobile, req.Code, req.Role)
	return result, trace.Wrap(err)
}

type providerToggleReq struct {
	Active      *bool   `json:"active"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	MainCatCode string  `json:"main_cat_code"`
	SubCatCode  string  `json:"sub_cat_code"`
}

func (h *Handler) toggleProviderStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	var req providerToggleReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Active == nil {
		return nil, trace.BadParameter("missing parameter active")
	}
	result, err := h.cfg.Presence.SetProviderActive(r.Context(), user, presence.ProviderUpdate{
		Active:      *req.Active,
		Lat:         req.Lat,
		Lng:         req.Lng,
		MainCatCode: req.MainCatCode,
		SubCatCode:  req.SubCatCode,
	})
	return result, trace.Wrap(err)
}

type seekerSearchReq struct {
	Searching  *bool   `json:"searching"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	CatCode    string  `json:"cat_code"`
	SubCatCode string  `json:"sub_cat_code"`
	RadiusKm   float64 `json:"radius_km"`
}

type seekerSearchResponse struct {
	Searching bool                      `json:"searching"`
	Providers []presence.NearbyProvider `json:"providers"`
}

func (h *Handler) toggleSeekerSearch(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	var req seekerSearchReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Searching == nil {
		return nil, trace.BadParameter("missing parameter searching")
	}
	providers, err := h.cfg.Presence.SetSeekerSearch(r.Context(), user, presence.SeekerUpdate{
		Searching:  *req.Searching,
		Lat:        req.Lat,
		Lng:        req.Lng,
		CatCode:    req.CatCode,
		SubCatCode: req.SubCatCode,
		RadiusKm:   req.RadiusKm,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if providers == nil {
		providers = []presence.NearbyProvider{}
	}
	return &seekerSearchResponse{Searching: *req.Searching, Providers: providers}, nil
}

func (h *Handler) assignWork(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	var req work.AssignRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.Work.Assign(r.Context(), user, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	roundtrip.ReplyJSON(w, http.StatusCreated, result)
	return nil, nil
}

type workOrdersResponse struct {
	Orders []services.WorkOrder `json:"orders"`
}

func (h *Handler) listWorkOrders(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	query := r.URL.Query()
	limit, err := queryInt(query.Get("limit"), defaults.WorkOrderPageSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	offset, err := queryInt(query.Get("offset"), 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	orders, err := h.cfg.Work.List(r.Context(), user, services.WorkOrderStatus(query.Get("status")), limit, offset)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if orders == nil {
		orders = []services.WorkOrder{}
	}
	return &workOrdersResponse{Orders: orders}, nil
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, trace.BadParameter("invalid query parameter %q", raw)
	}
	return value, nil
}

type fcmTokenReq struct {
	Token string `json:"fcm_token"`
}

func (h *Handler) registerFCMToken(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	var req fcmTokenReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	// An empty token unregisters the device.
	var token *string
	if req.Token != "" {
		token = &req.Token
	}
	if err := h.cfg.Users.UpdateFCMToken(r.Context(), user.ID, token); err != nil {
		return nil, trace.Wrap(err)
	}
	return httplib.OK(), nil
}

func (h *Handler) providerDashboard(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	dashboard, err := h.cfg.Work.Dashboard(r.Context(), user)
	return dashboard, trace.Wrap(err)
}

type categoriesResponse struct {
	Categories []services.Category `json:"categories"`
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	categories, err := h.cfg.Categories.ListCategories(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if categories == nil {
		categories = []services.Category{}
	}
	return &categoriesResponse{Categories: categories}, nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return httplib.OK(), nil
}
