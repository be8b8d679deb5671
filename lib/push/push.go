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

// Package push delivers FCM notifications to mobile devices and keeps
// the dispatch audit trail.
package push

import (
	"context"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/utils"
)

var pushNotifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: visible.MetricPushNotifications,
		Help: "Push notification dispatch outcomes by kind",
	},
	[]string{"kind", "status"},
)

// isTokenNotRegistered is a seam for tests, the SDK error type cannot be
// constructed outside its module.
var isTokenNotRegistered = messaging.IsRegistrationTokenNotRegistered

// Messenger is the slice of the FCM client the dispatcher uses.
type Messenger interface {
	// Send delivers one message and returns the FCM message id.
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Config holds dispatcher options.
type Config struct {
	// CredentialsFile is the path of the Firebase service account key.
	CredentialsFile string
	// CredentialsJSON is the inline service account key, used when no
	// file is configured.
	CredentialsJSON []byte
	// Messenger overrides the FCM client, tests inject fakes.
	Messenger Messenger
	// Users is consulted for device tokens and cleared on invalidation.
	Users services.UserStore
	// Audit records every dispatch outcome.
	Audit services.NotificationStore
	// Timeout bounds a single send.
	Timeout time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Audit == nil {
		return trace.BadParameter("missing parameter Audit")
	}
	if c.Messenger == nil && c.CredentialsFile == "" && len(c.CredentialsJSON) == 0 {
		return trace.BadParameter("missing FCM credentials")
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.PushTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Notification is one dispatch request.
type Notification struct {
	// Recipient is the target account, its FCMToken addresses the device.
	Recipient *services.User
	// Kind classifies the payload, it also rides in the data block as
	// the type key the mobile clients route on.
	Kind services.NotificationKind
	// WorkOrderID links the audit row to an order when there is one.
	WorkOrderID *int64
	Title       string
	Body        string
	// Data is the custom key value payload, values must be strings.
	Data map[string]string
}

// Dispatcher sends push notifications through FCM.
type Dispatcher struct {
	cfg    Config
	client Messenger
	log    *log.Entry
}

// New builds a dispatcher, connecting to Firebase unless a messenger is
// injected.
func New(ctx context.Context, cfg Config) (*Dispatcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(pushNotifications); err != nil {
		return nil, trace.Wrap(err)
	}
	client := cfg.Messenger
	if client == nil {
		opt := option.WithCredentialsFile(cfg.CredentialsFile)
		if cfg.CredentialsFile == "" {
			opt = option.WithCredentialsJSON(cfg.CredentialsJSON)
		}
		app, err := firebase.NewApp(ctx, nil, opt)
		if err != nil {
			return nil, trace.Wrap(err, "initializing firebase app")
		}
		client, err = app.Messaging(ctx)
		if err != nil {
			return nil, trace.Wrap(err, "initializing FCM client")
		}
	}
	return &Dispatcher{
		cfg:    cfg,
		client: client,
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentPush,
		}),
	}, nil
}

// Send dispatches one notification and records the outcome. It reports
// whether the device accepted the payload, delivery failures are returned
// for logging but callers treat them as non fatal.
func (d *Dispatcher) Send(ctx context.Context, n Notification) (bool, error) {
	if n.Recipient == nil {
		return false, trace.BadParameter("missing notification recipient")
	}
	if n.Recipient.FCMToken == nil || *n.Recipient.FCMToken == "" {
		d.log.WithField("recipient", n.Recipient.ID).Debug("Recipient has no registered device, skipping push.")
		return false, nil
	}

	audit, err := d.cfg.Audit.CreateNotification(ctx, &services.NotificationLog{
		WorkOrderID: n.WorkOrderID,
		RecipientID: n.Recipient.ID,
		Kind:        n.Kind,
		Transport:   services.TransportPush,
	})
	if err != nil {
		return false, trace.Wrap(err)
	}

	data := make(map[string]string, len(n.Data)+1)
	for key, value := range n.Data {
		data[key] = value
	}
	data["type"] = string(n.Kind)

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	messageID, sendErr := d.client.Send(sendCtx, &messaging.Message{
		Token: *n.Recipient.FCMToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
	})
	now := d.cfg.Clock.Now().UTC()
	if sendErr == nil {
		pushNotifications.WithLabelValues(string(n.Kind), "sent").Inc()
		if err := d.cfg.Audit.MarkNotificationSent(ctx, audit.ID, messageID, now); err != nil {
			d.log.WithError(err).Warn("Failed to record push dispatch.")
		}
		return true, nil
	}

	pushNotifications.WithLabelValues(string(n.Kind), "failed").Inc()
	if err := d.cfg.Audit.MarkNotificationFailed(ctx, audit.ID, sendErr.Error(), now); err != nil {
		d.log.WithError(err).Warn("Failed to record push failure.")
	}
	if isTokenNotRegistered(sendErr) {
		// The device uninstalled or rotated its token, drop it so later
		// sends skip FCM entirely.
		if err := d.cfg.Users.UpdateFCMToken(ctx, n.Recipient.ID, nil); err != nil {
			d.log.WithError(err).Warn("Failed to clear an invalidated device token.")
		}
	}
	return false, trace.Wrap(sendErr)
}
