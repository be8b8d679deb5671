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

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
)

// ListCategories implements services.CategoryStore.
func (s *Store) ListCategories(ctx context.Context) ([]services.Category, error) {
	var categories []services.Category
	err := s.db.SelectContext(ctx, &categories,
		`SELECT code, name FROM categories ORDER BY code ASC`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var subs []services.Subcategory
	err = s.db.SelectContext(ctx, &subs,
		`SELECT code, main_code, name FROM subcategories ORDER BY code ASC`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	byMain := make(map[string][]services.Subcategory)
	for _, sub := range subs {
		byMain[sub.MainCode] = append(byMain[sub.MainCode], sub)
	}
	for i := range categories {
		categories[i].Subcategories = byMain[categories[i].Code]
	}
	return categories, nil
}

// CategoryExists implements services.CategoryStore.
func (s *Store) CategoryExists(ctx context.Context, mainCode, subCode string) error {
	var found bool
	err := s.db.GetContext(ctx, &found,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE code = ?)`, mainCode)
	if err != nil {
		return trace.Wrap(err)
	}
	if !found {
		return trace.NotFound("category %v is not found", mainCode)
	}
	if subCode == "" {
		return nil
	}
	err = s.db.GetContext(ctx, &found,
		`SELECT EXISTS (SELECT 1 FROM subcategories WHERE code = ? AND main_code = ?)`,
		subCode, mainCode)
	if err != nil {
		return trace.Wrap(err)
	}
	if !found {
		return trace.NotFound("subcategory %v is not found under %v", subCode, mainCode)
	}
	return nil
}

// SeedCategories implements services.CategoryStore. Seeding only runs
// against an empty catalog so restarts never clobber edits.
func (s *Store) SeedCategories(ctx context.Context, categories []services.Category) error {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM categories`); err != nil {
		return trace.Wrap(err)
	}
	if count > 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback()
	for _, category := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (code, name) VALUES (?, ?)`,
			category.Code, category.Name); err != nil {
			return trace.Wrap(err)
		}
		for _, sub := range category.Subcategories {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO subcategories (code, main_code, name) VALUES (?, ?, ?)`,
				sub.Code, sub.MainCode, sub.Name); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	return trace.Wrap(tx.Commit())
}
