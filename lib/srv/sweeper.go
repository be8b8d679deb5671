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

package srv

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// SweeperConfig holds retention sweeper options.
type SweeperConfig struct {
	// Messages is the chat repository being swept.
	Messages services.MessageStore
	// Period is the sweep cadence.
	Period time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SweeperConfig) CheckAndSetDefaults() error {
	if c.Messages == nil {
		return trace.BadParameter("missing parameter Messages")
	}
	if c.Period == 0 {
		c.Period = defaults.RetentionSweepPeriod
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Sweeper deletes chat messages whose retention window has passed.
// Sessions stamp the expiry on terminal transitions, the sweeper only
// has to collect.
type Sweeper struct {
	cfg SweeperConfig
	log *log.Entry
}

// NewSweeper builds a retention sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Sweeper{
		cfg: cfg,
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentSweeper,
		}),
	}, nil
}

// Run sweeps on the configured cadence until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.WithField("period", s.cfg.Period).Info("Starting the chat retention sweeper.")
	ticker := s.cfg.Clock.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.sweep(ctx)
		case <-ctx.Done():
			s.log.Debug("Stopping the chat retention sweeper.")
			return nil
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.cfg.Messages.DeleteExpiredMessages(ctx, s.cfg.Clock.Now().UTC())
	if err != nil {
		s.log.WithError(err).Warn("Chat retention sweep failed.")
		return
	}
	if deleted > 0 {
		s.log.WithField("messages", deleted).Debug("Swept expired chat messages.")
	}
}
