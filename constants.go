package visible

import (
	"time"
)

// Version is the semantic version of the visible server.
const Version = "1.2.0"

const (
	// Component indicates a component of visible, used for logging
	Component = "component"

	// ComponentVisible is the root component of the server process
	ComponentVisible = "visibled"

	// ComponentGateway is the websocket and HTTP gateway
	ComponentGateway = "gateway"

	// ComponentSession is the live work session manager
	ComponentSession = "session"

	// ComponentPresence is the provider presence and discovery service
	ComponentPresence = "presence"

	// ComponentOrders is the work order service
	ComponentOrders = "orders"

	// ComponentPush is the FCM push dispatcher
	ComponentPush = "push:fcm"

	// ComponentStore is the persistence layer
	ComponentStore = "store"

	// ComponentBus is the in-process event bus
	ComponentBus = "bus"

	// ComponentAuth is the token and OTP service
	ComponentAuth = "auth"

	// ComponentSweeper is the chat retention sweeper
	ComponentSweeper = "sweeper"

	// ComponentConfig is the configuration loader
	ComponentConfig = "config"
)

const (
	// WebsocketCloseUnauthorized is sent when the upgrade request carries a
	// missing, malformed or expired token, or the token role does not match
	// the endpoint role.
	WebsocketCloseUnauthorized = 4001

	// WebsocketCloseInternal is sent when the server cannot continue
	// serving the connection.
	WebsocketCloseInternal = 4000
)

const (
	// MetricConnectedClients counts open websocket connections by channel
	// and role.
	MetricConnectedClients = "visible_connected_clients"

	// MetricLiveSessions counts sessions currently in a non-terminal state.
	MetricLiveSessions = "visible_live_sessions"

	// MetricPushNotifications counts FCM dispatch attempts by result.
	MetricPushNotifications = "visible_push_notifications_total"

	// MetricDroppedFrames counts lossy frames dropped on slow connections.
	MetricDroppedFrames = "visible_dropped_frames_total"

	// MetricChatMessages counts chat messages accepted by live sessions.
	MetricChatMessages = "visible_chat_messages_total"
)

const (
	// DefaultShutdownTimeout is how long the server waits for open
	// connections to drain on SIGTERM before closing them.
	DefaultShutdownTimeout = 10 * time.Second
)
