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
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/httplib"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/srv"
)

// Channel labels for logs and metrics.
const (
	channelLocation = "location"
	channelWork     = "work"
)

var connectedClients = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: visible.MetricConnectedClients,
		Help: "Open websocket connections by channel and role",
	},
	[]string{"channel", "role"},
)

// The mobile clients connect from app webviews and native stacks with no
// meaningful Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveSocket runs one websocket connection end to end: role and token
// checks, group subscription, then the read loop until the client goes
// away. Authentication failures close the socket with code 4001 after
// the upgrade so the client can tell them apart from network errors.
func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params, channel string, dispatch func(*wsConn, inboundFrame) error) {
	role := services.Role(p.ByName("role"))
	if role != services.RoleSeeker && role != services.RoleProvider {
		httplib.ReplyError(w, trace.NotFound("unknown channel role %q", p.ByName("role")))
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied over plain HTTP.
		h.log.WithError(err).Debug("Websocket upgrade failed.")
		return
	}
	user, err := h.authenticate(r)
	if err != nil {
		h.log.WithError(err).Debug("Rejected an anonymous websocket.")
		closeSocket(ws, visible.WebsocketCloseUnauthorized, "unauthorized")
		return
	}
	if user.Role != role {
		h.log.WithFields(log.Fields{
			"user":    user.ID,
			"channel": channel,
		}).Debug("Rejected a websocket with a mismatched role.")
		closeSocket(ws, visible.WebsocketCloseUnauthorized, "role does not match the endpoint")
		return
	}

	c := &wsConn{
		h:            h,
		channel:      channel,
		ws:           ws,
		user:         user,
		closeContext: r.Context(),
		log: h.log.WithFields(log.Fields{
			"user":    user.ID,
			"role":    string(user.Role),
			"channel": channel,
		}),
		events:   make(chan events.Event),
		replies:  make(chan interface{}, defaults.WebsocketSendBuffer),
		closeC:   make(chan struct{}),
		attached: make(map[string]*srv.Session),
	}
	connectedClients.WithLabelValues(channel, string(user.Role)).Inc()
	defer c.Close()

	if err := c.subscribe(events.UserGroup(user.ID, string(user.Role))); err != nil {
		c.log.WithError(err).Warn("Failed to attach the event feed.")
		return
	}
	go c.writeLoop()
	c.log.Debug("Client connected.")
	c.readLoop(dispatch)
	c.log.Debug("Client disconnected.")
}

func closeSocket(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(defaults.WriteTimeout)
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	ws.Close()
}

// wsConn is one live client connection. The read loop runs on the HTTP
// handler goroutine, a single writer goroutine owns all data writes, and
// one forwarder per bus subscription feeds it.
type wsConn struct {
	h       *Handler
	channel string
	ws      *websocket.Conn
	user    *services.User
	log     *log.Entry

	// closeContext is the upgrade request context. It outlives every
	// frame dispatch because the read loop runs inside the handler.
	closeContext context.Context

	// events merges every subscription feeding this connection.
	events chan events.Event
	// replies carries direct responses from the read loop.
	replies chan interface{}

	closeOnce sync.Once
	closeC    chan struct{}

	mu       sync.Mutex
	subs     []*events.Subscription
	attached map[string]*srv.Session
}

// Close tears the connection down exactly once: subscriptions first so
// the forwarders stop, then session detach, then the socket itself.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closeC)
		c.mu.Lock()
		subs := c.subs
		attached := c.attached
		c.subs = nil
		c.attached = nil
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		for _, sess := range attached {
			sess.Detach(c.user.ID)
		}
		c.ws.Close()
		connectedClients.WithLabelValues(c.channel, string(c.user.Role)).Dec()
	})
}

// subscribe attaches the connection to a bus group and starts the
// forwarder draining it.
func (c *wsConn) subscribe(group string) error {
	sub, err := c.h.cfg.Bus.Subscribe(group)
	if err != nil {
		return trace.Wrap(err)
	}
	c.mu.Lock()
	select {
	case <-c.closeC:
		c.mu.Unlock()
		sub.Close()
		return trace.CompareFailed("connection is closed")
	default:
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	go c.forward(sub)
	return nil
}

// forward moves one subscription's events into the shared writer queue.
// A failed subscription means lossless frames were about to be dropped,
// the connection closes so the client reconnects and re-syncs.
func (c *wsConn) forward(sub *events.Subscription) {
	for {
		select {
		case event := <-sub.Events():
			select {
			case c.events <- event:
			case <-c.closeC:
				return
			}
		case <-sub.Done():
			select {
			case <-c.closeC:
			default:
				c.fail(sub.Error())
			}
			return
		case <-c.closeC:
			return
		}
	}
}

// fail drops the connection with the internal close code.
func (c *wsConn) fail(err error) {
	c.log.WithError(err).Warn("Dropping the connection.")
	deadline := time.Now().Add(defaults.WriteTimeout)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(visible.WebsocketCloseInternal, "event stream reset"), deadline)
	c.Close()
}

// attachSession resolves a live session, verifies the caller is a party
// to it and subscribes the connection to the session group. The first
// attach also announces presence to the counterparty. Subsequent frames
// for the same session reuse the attachment.
func (c *wsConn) attachSession(ctx context.Context, sessionID string) (*srv.Session, error) {
	c.mu.Lock()
	sess, ok := c.attached[sessionID]
	c.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := c.h.cfg.Registry.FindSession(ctx, sessionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := sess.Attach(c.user.ID); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.subscribe(events.SessionGroup(sessionID)); err != nil {
		sess.Detach(c.user.ID)
		return nil, trace.Wrap(err)
	}
	c.mu.Lock()
	if c.attached == nil {
		c.mu.Unlock()
		sess.Detach(c.user.ID)
		return nil, trace.CompareFailed("connection is closed")
	}
	c.attached[sessionID] = sess
	c.mu.Unlock()
	return sess, nil
}

// readLoop parses and dispatches client frames until the socket breaks.
// Bad frames answer with an inline error frame, the connection stays
// open. A connection silent for two keepalive intervals is closed.
func (c *wsConn) readLoop(dispatch func(*wsConn, inboundFrame) error) {
	c.ws.SetReadLimit(defaults.WebsocketReadLimit)
	deadline := func() time.Time { return time.Now().Add(2 * defaults.KeepAliveInterval) }
	c.ws.SetReadDeadline(deadline())
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(deadline())
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(deadline())
		frame, err := parseInbound(data)
		if err != nil {
			c.sendError(err)
			continue
		}
		if _, ok := frame.(*pingFrame); ok {
			c.sendReply(&pongFrame{Type: framePong})
			continue
		}
		if err := dispatch(c, frame); err != nil {
			c.sendError(err)
		}
	}
}

// writeLoop owns every data write on the socket. It drains bus events
// and direct replies, pings idle connections, and closes the transport
// after a cancellation frame.
func (c *wsConn) writeLoop() {
	defer c.Close()
	keepalive := c.h.cfg.Clock.NewTicker(defaults.KeepAliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case event := <-c.events:
			if err := c.writeJSON(event.Payload); err != nil {
				return
			}
			if event.Type == frameCancelled {
				// A cancelled session also ends the transport.
				deadline := time.Now().Add(defaults.WriteTimeout)
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session cancelled"), deadline)
				return
			}
		case reply := <-c.replies:
			if err := c.writeJSON(reply); err != nil {
				return
			}
		case <-keepalive.Chan():
			deadline := time.Now().Add(defaults.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.closeC:
			return
		}
	}
}

func (c *wsConn) writeJSON(frame interface{}) error {
	c.ws.SetWriteDeadline(time.Now().Add(defaults.WriteTimeout))
	return trace.Wrap(c.ws.WriteJSON(frame))
}

// sendReply queues a direct response for the writer. Blocking here stalls
// the read loop, which is the backpressure the slow client deserves.
func (c *wsConn) sendReply(frame interface{}) {
	select {
	case c.replies <- frame:
	case <-c.closeC:
	}
}

// sendError answers a rejected frame inline. Internal errors are logged
// and surfaced in opaque form, mirroring the HTTP error path.
func (c *wsConn) sendError(err error) {
	message := trace.UserMessage(err)
	if httplib.ErrorToCode(err) == http.StatusInternalServerError {
		c.log.WithError(err).Error("Frame handler returned an internal error.")
		message = "internal server error"
	}
	c.sendReply(&errorFrame{Type: frameError, Message: message})
}
