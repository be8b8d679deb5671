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

// Package defaults contains default constants set in various parts of
// the visible codebase
package defaults

import (
	"time"
)

const (
	// HTTPListenPort is the default port for the HTTP API and the
	// websocket gateway
	HTTPListenPort = 8080

	// BindIP is the default listen address
	BindIP = "0.0.0.0"

	// ConfigFilePath is where visibled looks for its configuration when
	// --config is not passed
	ConfigFilePath = "/etc/visible.yaml"

	// ShutdownTimeout bounds the graceful drain of in-flight HTTP
	// requests on SIGINT/SIGTERM
	ShutdownTimeout = 10 * time.Second
)

const (
	// MinSearchRadiusKm and MaxSearchRadiusKm bound the seeker search
	// radius, inclusive on both ends
	MinSearchRadiusKm = 1.0
	MaxSearchRadiusKm = 50.0

	// EarthRadiusKm is the sphere radius used for all distance math
	EarthRadiusKm = 6371.0

	// MovementNoiseFloorMeters is the minimum displacement a session
	// location update has to cover to be stored, smaller deltas are
	// treated as GPS jitter and dropped
	MovementNoiseFloorMeters = 50.0

	// DistanceTickPeriod is how often a live session re-broadcasts the
	// distance between the two parties
	DistanceTickPeriod = 30 * time.Second

	// DistanceDecimals is the rounding applied to kilometer figures
	// returned at the API edge
	DistanceDecimals = 2
)

const (
	// ChatRetention is how long chat history survives after the session
	// reaches a terminal state
	ChatRetention = 24 * time.Hour

	// RetentionSweepPeriod is how often the sweeper deletes expired chat
	// messages
	RetentionSweepPeriod = 5 * time.Minute

	// ChatHistoryPageSize caps the number of messages a single
	// request_chat_history frame returns
	ChatHistoryPageSize = 200
)

const (
	// PushTimeout bounds a single FCM dispatch
	PushTimeout = 5 * time.Second
)

const (
	// WebsocketSendBuffer is the per-connection outbound frame buffer,
	// the buffer-full policy (drop or close) depends on the frame class
	WebsocketSendBuffer = 64

	// WebsocketReadLimit caps the size of a single inbound frame
	WebsocketReadLimit = 32 * 1024

	// KeepAliveInterval is how often the gateway pings an idle
	// connection, a connection missing two intervals is closed
	KeepAliveInterval = 30 * time.Second

	// WriteTimeout bounds a single websocket write
	WriteTimeout = 10 * time.Second
)

const (
	// OTPLength is the number of digits in a login code
	OTPLength = 6

	// OTPTTL is how long a login code stays valid
	OTPTTL = 5 * time.Minute

	// OTPResendInterval throttles repeated send-otp calls for the same
	// number
	OTPResendInterval = 30 * time.Second

	// AccessTokenTTL is the lifetime of a minted bearer token
	AccessTokenTTL = 30 * 24 * time.Hour
)

const (
	// WorkOrderPageSize is the default page size for order listings
	WorkOrderPageSize = 20

	// MaxPageSize caps any client supplied page size
	MaxPageSize = 100
)

const (
	// MaxRating is the top of the 1..5 completion rating scale
	MaxRating = 5
)

// ContactMediumKeys are the medium names a session party may share.
// Values under other keys are rejected.
var ContactMediumKeys = []string{
	"telegram",
	"whatsapp",
	"call",
	"map_location",
	"website",
	"instagram",
	"facebook",
	"land_mark",
	"upi_ID",
}
