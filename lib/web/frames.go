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
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// Inbound frame types the clients send. Each websocket channel accepts
// its own subset, see dispatchLocation and dispatchWork.
const (
	frameProviderStatus   = "provider_status_update"
	frameSeekerSearch     = "seeker_search_update"
	frameUpdateRadius     = "update_distance_radius"
	frameLocationUpdate   = "location_update"
	frameMediumSelection  = "medium_selection"
	frameStartChat        = "start_chat"
	frameChatMessage      = "chat_message"
	frameMessageDelivered = "message_delivered"
	frameMessageRead      = "message_read"
	frameTyping           = "typing_indicator"
	frameChatHistory      = "request_chat_history"
	frameWorkResponse     = "work_response"
	frameCancel           = "cancel_connection"
	frameFinish           = "finish_service"
	framePing             = "ping"
)

// Outbound frame types the gateway emits itself. Service frames arrive
// over the bus with their type already stamped by the publisher.
const (
	framePong            = "pong"
	frameError           = "error"
	frameNearbyProviders = "nearby_providers"
	frameRadiusUpdated   = "distance_updated"
	frameHistoryLoaded   = "chat_history_loaded"
	frameCancelled       = "connection_cancelled"
)

// inboundFrame is one parsed client frame. The payload schema is
// enforced here at the edge, the services behind the gateway only see
// well formed input.
type inboundFrame interface {
	frameType() string
	check() error
}

// parseInbound decodes the type discriminator and then the type specific
// payload. Unknown and malformed frames come back as trace.BadParameter,
// the caller answers with an inline error frame and keeps the connection
// open.
func parseInbound(data []byte) (inboundFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, trace.BadParameter("malformed frame: %v", err)
	}
	var frame inboundFrame
	switch envelope.Type {
	case "":
		return nil, trace.BadParameter("missing frame type")
	case framePing:
		return &pingFrame{}, nil
	case frameProviderStatus:
		frame = &providerStatusFrame{}
	case frameSeekerSearch:
		frame = &seekerSearchFrame{}
	case frameUpdateRadius:
		frame = &radiusFrame{}
	case frameLocationUpdate:
		frame = &locationFrame{}
	case frameMediumSelection:
		frame = &mediumsSelectFrame{}
	case frameStartChat:
		frame = &startChatFrame{}
	case frameChatMessage:
		frame = &chatSendFrame{}
	case frameMessageDelivered:
		frame = &ackFrame{status: services.MessageDelivered}
	case frameMessageRead:
		frame = &ackFrame{status: services.MessageRead}
	case frameTyping:
		frame = &typingSendFrame{}
	case frameChatHistory:
		frame = &historyFrame{}
	case frameWorkResponse:
		frame = &workDecisionFrame{}
	case frameCancel:
		frame = &cancelFrame{}
	case frameFinish:
		frame = &finishFrame{}
	default:
		return nil, trace.BadParameter("unknown frame type %q", envelope.Type)
	}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, trace.BadParameter("malformed %v frame: %v", envelope.Type, err)
	}
	if err := frame.check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return frame, nil
}

type pingFrame struct{}

func (f *pingFrame) frameType() string { return framePing }
func (f *pingFrame) check() error      { return nil }

// providerStatusFrame toggles the sender's provider availability.
type providerStatusFrame struct {
	Active      *bool    `json:"active"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	MainCatCode string   `json:"main_cat_code"`
	SubCatCode  string   `json:"sub_cat_code"`
}

func (f *providerStatusFrame) frameType() string { return frameProviderStatus }

func (f *providerStatusFrame) check() error {
	if f.Active == nil {
		return trace.BadParameter("missing parameter active")
	}
	if *f.Active && (f.Lat == nil || f.Lng == nil) {
		return trace.BadParameter("going active requires lat and lng")
	}
	return nil
}

func (f *providerStatusFrame) update() presence.ProviderUpdate {
	update := presence.ProviderUpdate{
		Active:      *f.Active,
		MainCatCode: f.MainCatCode,
		SubCatCode:  f.SubCatCode,
	}
	if f.Lat != nil {
		update.Lat = *f.Lat
	}
	if f.Lng != nil {
		update.Lng = *f.Lng
	}
	return update
}

// seekerSearchFrame toggles the sender's discovery search.
type seekerSearchFrame struct {
	Searching  *bool    `json:"searching"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	CatCode    string   `json:"cat_code"`
	SubCatCode string   `json:"sub_cat_code"`
	RadiusKm   *float64 `json:"radius_km"`
}

func (f *seekerSearchFrame) frameType() string { return frameSeekerSearch }

func (f *seekerSearchFrame) check() error {
	if f.Searching == nil {
		return trace.BadParameter("missing parameter searching")
	}
	if *f.Searching && (f.Lat == nil || f.Lng == nil) {
		return trace.BadParameter("searching requires lat and lng")
	}
	return nil
}

func (f *seekerSearchFrame) update() presence.SeekerUpdate {
	update := presence.SeekerUpdate{
		Searching:  *f.Searching,
		CatCode:    f.CatCode,
		SubCatCode: f.SubCatCode,
	}
	if f.Lat != nil {
		update.Lat = *f.Lat
	}
	if f.Lng != nil {
		update.Lng = *f.Lng
	}
	if f.RadiusKm != nil {
		update.RadiusKm = *f.RadiusKm
	}
	return update
}

// radiusFrame adjusts a searching seeker's radius and asks for a fresh
// snapshot.
type radiusFrame struct {
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	CatCode    string   `json:"cat_code"`
	SubCatCode string   `json:"sub_cat_code"`
	RadiusKm   *float64 `json:"radius_km"`
}

func (f *radiusFrame) frameType() string { return frameUpdateRadius }

func (f *radiusFrame) check() error {
	if f.Lat == nil || f.Lng == nil {
		return trace.BadParameter("missing parameter lat or lng")
	}
	if f.RadiusKm == nil {
		return trace.BadParameter("missing parameter radius_km")
	}
	return nil
}

// locationFrame is one live location sample inside a session.
type locationFrame struct {
	SessionID string   `json:"session_id"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

func (f *locationFrame) frameType() string { return frameLocationUpdate }

func (f *locationFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	if f.Lat == nil || f.Lng == nil {
		return trace.BadParameter("missing parameter lat or lng")
	}
	return nil
}

// mediumsSelectFrame shares the sender's contact mediums with the
// counterparty.
type mediumsSelectFrame struct {
	SessionID string            `json:"session_id"`
	Mediums   map[string]string `json:"mediums"`
}

func (f *mediumsSelectFrame) frameType() string { return frameMediumSelection }

func (f *mediumsSelectFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

type startChatFrame struct {
	SessionID string `json:"session_id"`
}

func (f *startChatFrame) frameType() string { return frameStartChat }

func (f *startChatFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

type chatSendFrame struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (f *chatSendFrame) frameType() string { return frameChatMessage }

func (f *chatSendFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

// ackFrame is a delivery or read receipt, the variant is carried in
// status.
type ackFrame struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`

	status services.MessageStatus
}

func (f *ackFrame) frameType() string {
	if f.status == services.MessageRead {
		return frameMessageRead
	}
	return frameMessageDelivered
}

func (f *ackFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	if f.MessageID == "" {
		return trace.BadParameter("missing parameter message_id")
	}
	return nil
}

type typingSendFrame struct {
	SessionID string `json:"session_id"`
	IsTyping  *bool  `json:"is_typing"`
}

func (f *typingSendFrame) frameType() string { return frameTyping }

func (f *typingSendFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	if f.IsTyping == nil {
		return trace.BadParameter("missing parameter is_typing")
	}
	return nil
}

type historyFrame struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

func (f *historyFrame) frameType() string { return frameChatHistory }

func (f *historyFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

// workDecisionFrame is a provider's accept or reject on a pending order.
type workDecisionFrame struct {
	WorkID   *int64 `json:"work_id"`
	Accepted *bool  `json:"accepted"`
}

func (f *workDecisionFrame) frameType() string { return frameWorkResponse }

func (f *workDecisionFrame) check() error {
	if f.WorkID == nil {
		return trace.BadParameter("missing parameter work_id")
	}
	if f.Accepted == nil {
		return trace.BadParameter("missing parameter accepted")
	}
	return nil
}

type cancelFrame struct {
	SessionID string `json:"session_id"`
}

func (f *cancelFrame) frameType() string { return frameCancel }

func (f *cancelFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

type finishFrame struct {
	SessionID string `json:"session_id"`
	Rating    *int   `json:"rating"`
}

func (f *finishFrame) frameType() string { return frameFinish }

func (f *finishFrame) check() error {
	if f.SessionID == "" {
		return trace.BadParameter("missing parameter session_id")
	}
	return nil
}

// pongFrame answers a ping.
type pongFrame struct {
	Type string `json:"type"`
}

// errorFrame reports a rejected frame inline without closing the
// connection.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// providersFrame carries a discovery snapshot, either the response to a
// search toggle or to a radius change.
type providersFrame struct {
	Type      string                    `json:"type"`
	Providers []presence.NearbyProvider `json:"providers"`
}

// chatHistoryFrame rehydrates a reconnecting client.
type chatHistoryFrame struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Messages  []services.ChatMessage `json:"messages"`
}

// workAckFrame confirms a provider's decision back to the provider. On
// acceptance it carries the session the client attaches to next.
type workAckFrame struct {
	Type       string `json:"type"`
	OrderID    int64  `json:"order_id"`
	Accepted   bool   `json:"accepted"`
	SessionID  string `json:"session_id,omitempty"`
	ChatRoomID string `json:"chat_room_id,omitempty"`
}
