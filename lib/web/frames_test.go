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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

func TestParseInboundRejects(t *testing.T) {
	tests := []struct {
		desc  string
		frame string
		match string
	}{
		{desc: "malformed json", frame: `{"type":`, match: "malformed frame"},
		{desc: "missing type", frame: `{"lat":1}`, match: "missing frame type"},
		{desc: "unknown type", frame: `{"type":"upgrade_to_premium"}`, match: "unknown frame type"},
		{desc: "wrong field type", frame: `{"type":"location_update","session_id":"s","lat":"north","lng":2}`, match: "malformed location_update frame"},
		{desc: "toggle without active", frame: `{"type":"provider_status_update","lat":1,"lng":2}`, match: "missing parameter active"},
		{desc: "active without coords", frame: `{"type":"provider_status_update","active":true,"lat":1}`, match: "requires lat and lng"},
		{desc: "search without flag", frame: `{"type":"seeker_search_update","lat":1,"lng":2}`, match: "missing parameter searching"},
		{desc: "searching without coords", frame: `{"type":"seeker_search_update","searching":true}`, match: "requires lat and lng"},
		{desc: "radius change without radius", frame: `{"type":"update_distance_radius","lat":1,"lng":2}`, match: "missing parameter radius_km"},
		{desc: "location without session", frame: `{"type":"location_update","lat":1,"lng":2}`, match: "missing parameter session_id"},
		{desc: "location without coords", frame: `{"type":"location_update","session_id":"s"}`, match: "missing parameter lat or lng"},
		{desc: "mediums without session", frame: `{"type":"medium_selection","mediums":{"call":"1"}}`, match: "missing parameter session_id"},
		{desc: "receipt without message", frame: `{"type":"message_delivered","session_id":"s"}`, match: "missing parameter message_id"},
		{desc: "typing without flag", frame: `{"type":"typing_indicator","session_id":"s"}`, match: "missing parameter is_typing"},
		{desc: "decision without order", frame: `{"type":"work_response","accepted":true}`, match: "missing parameter work_id"},
		{desc: "decision without verdict", frame: `{"type":"work_response","work_id":7}`, match: "missing parameter accepted"},
		{desc: "cancel without session", frame: `{"type":"cancel_connection"}`, match: "missing parameter session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			frame, err := parseInbound([]byte(tt.frame))
			require.Nil(t, frame)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
			require.Contains(t, err.Error(), tt.match)
		})
	}
}

func TestParseInboundAccepts(t *testing.T) {
	frame, err := parseInbound([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, framePing, frame.frameType())

	frame, err = parseInbound([]byte(`{"type":"provider_status_update","active":false}`))
	require.NoError(t, err)
	status, ok := frame.(*providerStatusFrame)
	require.True(t, ok)
	require.False(t, status.update().Active)

	frame, err = parseInbound([]byte(`{"type":"seeker_search_update","searching":true,"lat":11.25,"lng":75.85,"cat_code":"MS0001","sub_cat_code":"SS0001","radius_km":5}`))
	require.NoError(t, err)
	search, ok := frame.(*seekerSearchFrame)
	require.True(t, ok)
	require.Equal(t, 5.0, search.update().RadiusKm)
	require.Equal(t, "MS0001", search.update().CatCode)

	frame, err = parseInbound([]byte(`{"type":"location_update","session_id":"abc","lat":11.25,"lng":75.85}`))
	require.NoError(t, err)
	loc, ok := frame.(*locationFrame)
	require.True(t, ok)
	require.Equal(t, "abc", loc.SessionID)
	require.Equal(t, 11.25, *loc.Lat)

	frame, err = parseInbound([]byte(`{"type":"message_read","session_id":"abc","message_id":"m1"}`))
	require.NoError(t, err)
	ack, ok := frame.(*ackFrame)
	require.True(t, ok)
	require.Equal(t, services.MessageRead, ack.status)
	require.Equal(t, frameMessageRead, ack.frameType())

	frame, err = parseInbound([]byte(`{"type":"message_delivered","session_id":"abc","message_id":"m1"}`))
	require.NoError(t, err)
	ack, ok = frame.(*ackFrame)
	require.True(t, ok)
	require.Equal(t, services.MessageDelivered, ack.status)

	frame, err = parseInbound([]byte(`{"type":"work_response","work_id":42,"accepted":true}`))
	require.NoError(t, err)
	decision, ok := frame.(*workDecisionFrame)
	require.True(t, ok)
	require.Equal(t, int64(42), *decision.WorkID)
	require.True(t, *decision.Accepted)

	frame, err = parseInbound([]byte(`{"type":"finish_service","session_id":"abc","rating":5}`))
	require.NoError(t, err)
	finish, ok := frame.(*finishFrame)
	require.True(t, ok)
	require.Equal(t, 5, *finish.Rating)

	frame, err = parseInbound([]byte(`{"type":"finish_service","session_id":"abc"}`))
	require.NoError(t, err)
	finish, ok = frame.(*finishFrame)
	require.True(t, ok)
	require.Nil(t, finish.Rating)

	// Extra fields are tolerated, only the schema fields are read.
	frame, err = parseInbound([]byte(`{"type":"chat_message","session_id":"abc","text":"hi","client_ref":"x9"}`))
	require.NoError(t, err)
	chat, ok := frame.(*chatSendFrame)
	require.True(t, ok)
	require.Equal(t, "hi", chat.Text)
}
