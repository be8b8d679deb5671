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

package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// CreateUser implements services.UserStore.
func (s *Store) CreateUser(ctx context.Context, user *services.User) (*services.User, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *user
	out.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (mobile, role, verified, name, fcm_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		out.Mobile, out.Role, out.Verified, out.Name, out.FCMToken, out.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, trace.AlreadyExists("user with mobile %v already exists", user.Mobile)
		}
		return nil, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out.ID = id
	return &out, nil
}

// GetUser implements services.UserStore.
func (s *Store) GetUser(ctx context.Context, id int64) (*services.User, error) {
	var user services.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, mobile, role, verified, name, fcm_token, created_at
		 FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("user %v is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// GetUserByMobile implements services.UserStore.
func (s *Store) GetUserByMobile(ctx context.Context, mobile string) (*services.User, error) {
	var user services.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, mobile, role, verified, name, fcm_token, created_at
		 FROM users WHERE mobile = ?`, mobile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("user with mobile %v is not found", mobile)
		}
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// UpdateUserRole implements services.UserStore.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role services.Role) error {
	if err := role.Validate(); err != nil {
		return trace.Wrap(err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireAffected(res, "user %v is not found", id))
}

// UpdateFCMToken implements services.UserStore.
func (s *Store) UpdateFCMToken(ctx context.Context, id int64, token *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET fcm_token = ? WHERE id = ?`, token, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireAffected(res, "user %v is not found", id))
}

// requireAffected converts a zero affected row count into trace.NotFound.
// The DSN forces clientFoundRows, so the count means matched rows and
// no-op updates of existing rows still count as hits.
func requireAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound(format, args...)
	}
	return nil
}
