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
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// workSocket serves /ws/work/{provider|seeker}/, the live session
// channel. Orders are answered on it and everything inside a session,
// locations, mediums, chat and receipts, flows through it. The first
// frame naming a session attaches the connection to that session's
// group.
func (h *Handler) workSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	h.serveSocket(w, r, p, channelWork, h.dispatchWork)
}

func (h *Handler) dispatchWork(c *wsConn, frame inboundFrame) error {
	ctx := c.closeContext
	switch f := frame.(type) {
	case *workDecisionFrame:
		result, err := h.cfg.Work.Respond(ctx, c.user, *f.WorkID, *f.Accepted)
		if err != nil {
			return trace.Wrap(err)
		}
		ack := &workAckFrame{
			Type:     frameWorkResponse,
			OrderID:  result.Order.ID,
			Accepted: *f.Accepted,
		}
		if result.Session != nil {
			ack.SessionID = result.Session.ID
			ack.ChatRoomID = result.Session.ChatRoomID
		}
		c.sendReply(ack)
		return nil

	case *locationFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(sess.HandleLocation(ctx, c.user.ID, *f.Lat, *f.Lng))

	case *mediumsSelectFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = sess.HandleMediums(ctx, c.user.ID, f.Mediums)
		return trace.Wrap(err)

	case *startChatFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		// The chat_ready broadcast reaches the caller through the
		// session group it just attached to.
		_, err = sess.HandleStartChat(ctx, c.user.ID)
		return trace.Wrap(err)

	case *chatSendFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = sess.HandleChat(ctx, c.user.ID, f.Text)
		return trace.Wrap(err)

	case *ackFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(sess.HandleAck(ctx, c.user.ID, f.MessageID, f.status))

	case *typingSendFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(sess.HandleTyping(ctx, c.user.ID, *f.IsTyping))

	case *historyFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		messages, err := sess.History(ctx, c.user.ID, f.Limit)
		if err != nil {
			return trace.Wrap(err)
		}
		if messages == nil {
			messages = []services.ChatMessage{}
		}
		c.sendReply(&chatHistoryFrame{
			Type:      frameHistoryLoaded,
			SessionID: sess.ID(),
			Messages:  messages,
		})
		return nil

	case *cancelFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		// The connection_cancelled broadcast makes both writers close
		// their sockets.
		return trace.Wrap(sess.Cancel(ctx, c.user.ID))

	case *finishFrame:
		sess, err := c.attachSession(ctx, f.SessionID)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(sess.Complete(ctx, c.user.ID, f.Rating))

	default:
		return trace.BadParameter("frame %q is not accepted on the work channel", frame.frameType())
	}
}
