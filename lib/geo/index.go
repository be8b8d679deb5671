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

package geo

import (
	"sort"
	"sync"
)

// Provider is one active provider position inside a category shard.
type Provider struct {
	ID  int64
	Lat float64
	Lng float64
}

// Match pairs a provider with its distance from the query point.
type Match struct {
	Provider
	DistanceKm float64
}

// Watcher is a searching seeker registered for reverse fan-out when
// providers of their category come and go.
type Watcher struct {
	ID       int64
	Lat      float64
	Lng      float64
	RadiusKm float64
	// Sub narrows the watcher to one subcategory, empty admits any
	// subcategory under the main category.
	Sub string
}

type shardKey struct {
	main string
	sub  string
}

// Index answers radius queries over active providers and keeps the reverse
// map of searching seekers. Providers shard by (main, sub) category pair,
// watchers by main category. Lookups inside a shard are a linear scan,
// which holds up comfortably into the thousands of entries per shard.
type Index struct {
	mu       sync.RWMutex
	shards   map[shardKey]map[int64]Provider
	watchers map[string]map[int64]Watcher
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		shards:   make(map[shardKey]map[int64]Provider),
		watchers: make(map[string]map[int64]Watcher),
	}
}

// UpsertProvider places p into the (main, sub) shard and reports the
// previous position when p was already there.
func (i *Index) UpsertProvider(main, sub string, p Provider) (prev Provider, existed bool) {
	key := shardKey{main: main, sub: sub}
	i.mu.Lock()
	defer i.mu.Unlock()
	shard, ok := i.shards[key]
	if !ok {
		shard = make(map[int64]Provider)
		i.shards[key] = shard
	}
	prev, existed = shard[p.ID]
	shard[p.ID] = p
	return prev, existed
}

// RemoveProvider drops the provider from the (main, sub) shard and reports
// whether it was present.
func (i *Index) RemoveProvider(main, sub string, id int64) bool {
	key := shardKey{main: main, sub: sub}
	i.mu.Lock()
	defer i.mu.Unlock()
	shard, ok := i.shards[key]
	if !ok {
		return false
	}
	if _, present := shard[id]; !present {
		return false
	}
	delete(shard, id)
	if len(shard) == 0 {
		delete(i.shards, key)
	}
	return true
}

// Nearby returns providers within radiusKm of the query point, closest
// first, ties broken by ascending provider id. An empty sub admits every
// subcategory under main. The radius boundary is inclusive. The result is
// a snapshot with no consistency guarantee across concurrent toggles.
func (i *Index) Nearby(main, sub string, lat, lng, radiusKm float64) []Match {
	i.mu.RLock()
	matches := make([]Match, 0, 8)
	for key, shard := range i.shards {
		if key.main != main || (sub != "" && key.sub != sub) {
			continue
		}
		for _, p := range shard {
			d := Haversine(lat, lng, p.Lat, p.Lng)
			if d <= radiusKm {
				matches = append(matches, Match{Provider: p, DistanceKm: d})
			}
		}
	}
	i.mu.RUnlock()

	sort.Slice(matches, func(a, b int) bool {
		if matches[a].DistanceKm != matches[b].DistanceKm {
			return matches[a].DistanceKm < matches[b].DistanceKm
		}
		return matches[a].ID < matches[b].ID
	})
	return matches
}

// UpsertWatcher registers a searching seeker under the main category.
func (i *Index) UpsertWatcher(main string, w Watcher) {
	i.mu.Lock()
	defer i.mu.Unlock()
	group, ok := i.watchers[main]
	if !ok {
		group = make(map[int64]Watcher)
		i.watchers[main] = group
	}
	group[w.ID] = w
}

// RemoveWatcher drops a seeker from the main category watch group.
func (i *Index) RemoveWatcher(main string, id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	group, ok := i.watchers[main]
	if !ok {
		return
	}
	delete(group, id)
	if len(group) == 0 {
		delete(i.watchers, main)
	}
}

// MatchingWatchers returns a snapshot of watchers under main whose
// subcategory filter admits sub, in no particular order. Radius filtering
// is left to the caller, which needs both old and new distances to detect
// boundary crossings.
func (i *Index) MatchingWatchers(main, sub string) []Watcher {
	i.mu.RLock()
	defer i.mu.RUnlock()
	group := i.watchers[main]
	out := make([]Watcher, 0, len(group))
	for _, w := range group {
		if w.Sub == "" || w.Sub == sub {
			out = append(out, w)
		}
	}
	return out
}
