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

// Package mysql implements the services.Store contract over MySQL using
// sqlx. The schema is created on open, guarded transitions are
// conditional updates checked by affected row count.
package mysql

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/gravitational/trace"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	visible "github.com/imrandevop/VISIBLE-sub000"
)

// Config holds MySQL store options.
type Config struct {
	// DSN is the go-sql-driver data source name. parseTime is forced on
	// so DATETIME columns scan into time.Time.
	DSN string
	// Clock is the time source, a fake clock in tests.
	Clock clockwork.Clock
	// MaxOpenConns bounds the pool, zero means the driver default.
	MaxOpenConns int
}

// CheckAndSetDefaults validates the config and fills in defaults.
// parseTime makes DATETIME columns scan into time.Time, clientFoundRows
// makes RowsAffected count matched rows so idempotent updates are not
// mistaken for missing ones.
func (c *Config) CheckAndSetDefaults() error {
	if c.DSN == "" {
		return trace.BadParameter("missing parameter DSN")
	}
	for _, param := range []string{"parseTime=true", "clientFoundRows=true"} {
		if strings.Contains(c.DSN, strings.SplitN(param, "=", 2)[0]) {
			continue
		}
		sep := "?"
		if strings.Contains(c.DSN, "?") {
			sep = "&"
		}
		c.DSN += sep + param
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store is the MySQL implementation of services.Store.
type Store struct {
	db    *sqlx.DB
	clock clockwork.Clock
	log   *log.Entry
}

// New connects to MySQL and creates missing tables.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", cfg.DSN)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "cannot connect to mysql")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	s := &Store{
		db:    db,
		clock: cfg.Clock,
		log: log.WithFields(log.Fields{
			trace.Component: visible.ComponentStore,
		}),
	}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return s, nil
}

// Close implements services.Store.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return trace.Wrap(err, "creating schema")
		}
	}
	return nil
}

// isDuplicateEntry detects MySQL unique key violations (error 1062).
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT NOT NULL AUTO_INCREMENT,
		mobile VARCHAR(20) NOT NULL,
		role VARCHAR(16) NOT NULL,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		name VARCHAR(128),
		fcm_token VARCHAR(512),
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_mobile (mobile)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS provider_presence (
		user_id BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		lat DOUBLE,
		lng DOUBLE,
		main_cat_code VARCHAR(16) NOT NULL DEFAULT '',
		sub_cat_code VARCHAR(16) NOT NULL DEFAULT '',
		last_active_at DATETIME(6),
		PRIMARY KEY (user_id),
		KEY ix_presence_active (active, main_cat_code, sub_cat_code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS seeker_search (
		user_id BIGINT NOT NULL,
		searching BOOLEAN NOT NULL DEFAULT FALSE,
		lat DOUBLE,
		lng DOUBLE,
		cat_code VARCHAR(16) NOT NULL DEFAULT '',
		sub_cat_code VARCHAR(16) NOT NULL DEFAULT '',
		radius_km DOUBLE NOT NULL DEFAULT 0,
		last_search_at DATETIME(6),
		PRIMARY KEY (user_id),
		KEY ix_search_searching (searching, cat_code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS work_orders (
		id BIGINT NOT NULL AUTO_INCREMENT,
		seeker_id BIGINT NOT NULL,
		provider_id BIGINT NOT NULL,
		service_type VARCHAR(128) NOT NULL,
		main_cat_code VARCHAR(16) NOT NULL DEFAULT '',
		sub_cat_code VARCHAR(16) NOT NULL DEFAULT '',
		message TEXT,
		schedule TEXT,
		seeker_lat DOUBLE,
		seeker_lng DOUBLE,
		provider_lat DOUBLE,
		provider_lng DOUBLE,
		calculated_distance_km DOUBLE,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		response_time DATETIME(6),
		completion_time DATETIME(6),
		pending_pair TINYINT AS (IF(status = 'pending', 1, NULL)) STORED,
		PRIMARY KEY (id),
		UNIQUE KEY uq_orders_pending (seeker_id, provider_id, pending_pair),
		KEY ix_orders_seeker (seeker_id, status),
		KEY ix_orders_provider (provider_id, status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS work_sessions (
		id CHAR(36) NOT NULL,
		work_order_id BIGINT NOT NULL,
		seeker_id BIGINT NOT NULL,
		provider_id BIGINT NOT NULL,
		state VARCHAR(16) NOT NULL,
		provider_lat DOUBLE,
		provider_lng DOUBLE,
		provider_loc_at DATETIME(6),
		seeker_lat DOUBLE,
		seeker_lng DOUBLE,
		seeker_loc_at DATETIME(6),
		current_distance_m DOUBLE,
		last_distance_at DATETIME(6),
		seeker_mediums TEXT,
		provider_mediums TEXT,
		mediums_shared_at DATETIME(6),
		chat_room_id CHAR(36) NOT NULL,
		chat_started_at DATETIME(6),
		cancelled_by BIGINT,
		cancelled_at DATETIME(6),
		completed_at DATETIME(6),
		rating INT,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_sessions_order (work_order_id),
		KEY ix_sessions_state (state)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id CHAR(36) NOT NULL,
		session_id CHAR(36) NOT NULL,
		sender_id BIGINT NOT NULL,
		sender_role VARCHAR(16) NOT NULL,
		text TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		delivered_at DATETIME(6),
		read_at DATETIME(6),
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6),
		PRIMARY KEY (id),
		KEY ix_messages_session (session_id, created_at, id),
		KEY ix_messages_expiry (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS typing_flags (
		session_id CHAR(36) NOT NULL,
		user_id BIGINT NOT NULL,
		role VARCHAR(16) NOT NULL,
		is_typing BOOLEAN NOT NULL DEFAULT FALSE,
		last_typing_at DATETIME(6) NOT NULL,
		PRIMARY KEY (session_id, user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS notification_log (
		id BIGINT NOT NULL AUTO_INCREMENT,
		work_order_id BIGINT,
		recipient_id BIGINT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		transport VARCHAR(8) NOT NULL,
		status VARCHAR(16) NOT NULL,
		external_id VARCHAR(256),
		error TEXT,
		sent_at DATETIME(6),
		delivered_at DATETIME(6),
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		KEY ix_notifications_recipient (recipient_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS categories (
		code VARCHAR(16) NOT NULL,
		name VARCHAR(128) NOT NULL,
		PRIMARY KEY (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS subcategories (
		code VARCHAR(16) NOT NULL,
		main_code VARCHAR(16) NOT NULL,
		name VARCHAR(128) NOT NULL,
		PRIMARY KEY (code),
		KEY ix_subcategories_main (main_code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
