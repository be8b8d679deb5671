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

package services

// Category is one main service category of the catalog.
type Category struct {
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
	// Subcategories is populated on catalog reads.
	Subcategories []Subcategory `json:"subcategories,omitempty" db:"-"`
}

// Subcategory is one concrete service under a main category.
type Subcategory struct {
	Code     string `json:"code" db:"code"`
	MainCode string `json:"main_code" db:"main_code"`
	Name     string `json:"name" db:"name"`
}

// DefaultCategories seeds an empty catalog. Codes follow the MSxxxx and
// SSxxxx convention the mobile clients ship with.
func DefaultCategories() []Category {
	return []Category{
		{
			Code: "MS0001", Name: "Home Services",
			Subcategories: []Subcategory{
				{Code: "SS0001", MainCode: "MS0001", Name: "Plumbing"},
				{Code: "SS0002", MainCode: "MS0001", Name: "Electrical"},
				{Code: "SS0003", MainCode: "MS0001", Name: "Cleaning"},
				{Code: "SS0004", MainCode: "MS0001", Name: "Carpentry"},
			},
		},
		{
			Code: "MS0002", Name: "Personal Care",
			Subcategories: []Subcategory{
				{Code: "SS0101", MainCode: "MS0002", Name: "Haircut"},
				{Code: "SS0102", MainCode: "MS0002", Name: "Massage"},
			},
		},
		{
			Code: "MS0003", Name: "Transport",
			Subcategories: []Subcategory{
				{Code: "SS0201", MainCode: "MS0003", Name: "Courier"},
				{Code: "SS0202", MainCode: "MS0003", Name: "Moving"},
			},
		},
	}
}
