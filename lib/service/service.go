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

// Package service composes the storage, event, session, and gateway
// layers into one runnable visibled process.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/auth"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/events"
	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
	"github.com/imrandevop/VISIBLE-sub000/lib/push"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/memory"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/mysql"
	"github.com/imrandevop/VISIBLE-sub000/lib/srv"
	"github.com/imrandevop/VISIBLE-sub000/lib/web"
	"github.com/imrandevop/VISIBLE-sub000/lib/work"
)

const (
	// StorageMySQL selects the durable MySQL store.
	StorageMySQL = "mysql"
	// StorageMemory selects the in-memory store, data is lost on
	// restart.
	StorageMemory = "memory"
)

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Type is one of mysql or memory.
	Type string
	// DSN is the go-sql-driver data source name, mysql only.
	DSN string
	// MaxOpenConns bounds the mysql pool, zero means the driver default.
	MaxOpenConns int
}

// AuthConfig carries the login settings.
type AuthConfig struct {
	// TokenSigningKey is the HMAC secret for bearer tokens. All replicas
	// behind one load balancer must share it.
	TokenSigningKey []byte
	// SMSRegion resolves national phone numbers, defaults to IN.
	SMSRegion string
}

// PushConfig carries the FCM settings.
type PushConfig struct {
	// Disabled turns mobile push off, order and chat events then reach
	// connected sockets only.
	Disabled bool
	// CredentialsFile is the path of the Firebase service account key.
	CredentialsFile string
	// CredentialsJSON is the inline service account key.
	CredentialsJSON []byte
}

// Config is the assembled runtime configuration of a visibled process.
// lib/config builds it from the YAML file, the environment, and the
// command line.
type Config struct {
	// ListenAddr is the gateway bind address.
	ListenAddr string
	// DiagAddr exposes Prometheus metrics when set.
	DiagAddr string
	// Storage selects the persistence backend.
	Storage StorageConfig
	// Auth carries the login settings.
	Auth AuthConfig
	// Push carries the FCM settings.
	Push PushConfig
	// Clock is the time source shared by every component.
	Clock clockwork.Clock
}

// MakeDefaultConfig returns the baseline configuration the file,
// environment, and flag layers are applied onto.
func MakeDefaultConfig() *Config {
	return &Config{
		ListenAddr: net.JoinHostPort(defaults.BindIP, strconv.Itoa(defaults.HTTPListenPort)),
		Storage:    StorageConfig{Type: StorageMemory},
	}
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort(defaults.BindIP, strconv.Itoa(defaults.HTTPListenPort))
	}
	switch c.Storage.Type {
	case StorageMySQL:
		if c.Storage.DSN == "" {
			return trace.BadParameter("mysql storage requires a dsn")
		}
	case "", StorageMemory:
		c.Storage.Type = StorageMemory
	default:
		return trace.BadParameter("unsupported storage type %q, use %q or %q",
			c.Storage.Type, StorageMySQL, StorageMemory)
	}
	if len(c.Auth.TokenSigningKey) == 0 {
		return trace.BadParameter("missing token signing key")
	}
	if !c.Push.Disabled && c.Push.CredentialsFile == "" && len(c.Push.CredentialsJSON) == 0 {
		return trace.BadParameter("push dispatch requires FCM credentials, " +
			"set push.credentials_file or disable push explicitly")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Server is a fully wired visibled process.
type Server struct {
	cfg *Config
	log *log.Entry

	store    services.Store
	bus      *events.Bus
	pusher   *push.Dispatcher
	presence *presence.Service
	orders   *work.Service
	registry *srv.Registry
	sweeper  *srv.Sweeper
	handler  *web.Handler
}

// New opens the store and wires every service. The returned server owns
// the store and the bus and releases both in Close.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	logger := log.WithFields(log.Fields{
		trace.Component: visible.ComponentVisible,
	})

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ok := false
	defer func() {
		if !ok {
			store.Close()
		}
	}()
	if err := store.SeedCategories(ctx, services.DefaultCategories()); err != nil {
		return nil, trace.Wrap(err)
	}

	bus, err := events.NewBus(events.Config{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer func() {
		if !ok {
			bus.Close()
		}
	}()

	// The Push fields of work and srv are interfaces, they are only
	// assigned when a dispatcher exists so a nil stays a nil.
	var pusher *push.Dispatcher
	var orderPush work.PushSender
	var sessionPush srv.PushSender
	if cfg.Push.Disabled {
		logger.Info("Mobile push dispatch is disabled, events reach connected sockets only.")
	} else {
		pusher, err = push.New(ctx, push.Config{
			CredentialsFile: cfg.Push.CredentialsFile,
			CredentialsJSON: cfg.Push.CredentialsJSON,
			Users:           store,
			Audit:           store,
			Clock:           cfg.Clock,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		orderPush, sessionPush = pusher, pusher
	}

	presenceSvc, err := presence.New(ctx, presence.Config{
		Users:      store,
		Presence:   store,
		Categories: store,
		Bus:        bus,
		Clock:      cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	orders, err := work.New(work.Config{
		Users:      store,
		Orders:     store,
		Sessions:   store,
		Audit:      store,
		Categories: store,
		Presence:   presenceSvc,
		Bus:        bus,
		Push:       orderPush,
		Clock:      cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	registry, err := srv.NewRegistry(srv.Config{
		Users:    store,
		Sessions: store,
		Messages: store,
		Orders:   orders,
		Presence: presenceSvc,
		Bus:      bus,
		Push:     sessionPush,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	orders.SetSessionRegistry(registry)
	if err := registry.Rehydrate(ctx); err != nil {
		registry.Close()
		return nil, trace.Wrap(err)
	}

	sweeper, err := srv.NewSweeper(srv.SweeperConfig{
		Messages: store,
		Clock:    cfg.Clock,
	})
	if err != nil {
		registry.Close()
		return nil, trace.Wrap(err)
	}

	tokens, err := auth.NewAccessTokenService(auth.TokenConfig{
		SigningKey: cfg.Auth.TokenSigningKey,
		Users:      store,
		Clock:      cfg.Clock,
	})
	if err != nil {
		registry.Close()
		return nil, trace.Wrap(err)
	}
	otp, err := auth.NewOTPService(auth.OTPConfig{
		Users:    store,
		Orders:   store,
		Presence: store,
		Tokens:   tokens,
		Region:   cfg.Auth.SMSRegion,
		Clock:    cfg.Clock,
	})
	if err != nil {
		registry.Close()
		return nil, trace.Wrap(err)
	}
	logger.Warn("No SMS gateway is configured, login codes are written to the log.")

	handler, err := web.NewHandler(web.Config{
		Auth:       otp,
		Tokens:     tokens,
		Presence:   presenceSvc,
		Work:       orders,
		Registry:   registry,
		Users:      store,
		Categories: store,
		Bus:        bus,
		Clock:      cfg.Clock,
	})
	if err != nil {
		registry.Close()
		return nil, trace.Wrap(err)
	}

	ok = true
	return &Server{
		cfg:      cfg,
		log:      logger,
		store:    store,
		bus:      bus,
		pusher:   pusher,
		presence: presenceSvc,
		orders:   orders,
		registry: registry,
		sweeper:  sweeper,
		handler:  handler,
	}, nil
}

func openStore(ctx context.Context, cfg *Config) (services.Store, error) {
	switch cfg.Storage.Type {
	case StorageMySQL:
		store, err := mysql.New(ctx, mysql.Config{
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			Clock:        cfg.Clock,
		})
		return store, trace.Wrap(err)
	default:
		store, err := memory.New(memory.Config{Clock: cfg.Clock})
		return store, trace.Wrap(err)
	}
}

// Handler exposes the gateway for tests that drive the composed stack
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until the context is cancelled, then drains and returns.
// Plain HTTP requests get the shutdown grace period, websockets are
// dropped by closing the bus, clients reconnect and resync.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.handler}
	g.Go(func() error {
		s.log.WithField("addr", s.cfg.ListenAddr).Info("Gateway is listening.")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})

	var diagServer *http.Server
	if s.cfg.DiagAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		diagServer = &http.Server{Addr: s.cfg.DiagAddr, Handler: mux}
		g.Go(func() error {
			s.log.WithField("addr", s.cfg.DiagAddr).Info("Diagnostics are listening.")
			if err := diagServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return trace.Wrap(err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return trace.Wrap(s.sweeper.Run(gctx))
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if diagServer != nil {
			if diagErr := diagServer.Shutdown(shutdownCtx); err == nil {
				err = diagErr
			}
		}
		return trace.Wrap(err)
	})

	err := g.Wait()
	s.Close()
	return trace.Wrap(err)
}

// Close releases every resource the server owns. Safe after a finished
// Run, which already closed them.
func (s *Server) Close() {
	s.registry.Close()
	s.bus.Close()
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close the store.")
	}
}
