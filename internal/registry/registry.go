// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package registry holds the single piece of shared mutable state in the
// system: the map from live subscriber to its set of subscribed topics.
// It is mutated concurrently by many sessions and read by the broker
// dispatch loop; all access goes through its compound operations.
package registry

import (
	"sync"

	"github.com/apistream/streambridge/pkg/core"
)

type Registry struct {
	mu        sync.RWMutex
	listeners map[core.Subscriber]map[string]struct{}
}

func New() *Registry {
	return &Registry{listeners: make(map[core.Subscriber]map[string]struct{})}
}

// Set replaces the subscriber's topic set with exactly {topic}, dropping
// any prior subscriptions.
func (r *Registry) Set(sub core.Subscriber, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[sub] = map[string]struct{}{topic: {}}
}

// Add unions topics into the subscriber's set, creating the entry if it
// is absent. An empty topics slice is a no-op.
func (r *Registry) Add(sub core.Subscriber, topics []string) {
	if len(topics) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.listeners[sub]
	if !ok {
		set = make(map[string]struct{}, len(topics))
		r.listeners[sub] = set
	}
	for _, t := range topics {
		set[t] = struct{}{}
	}
}

// Remove subtracts topics from the subscriber's set. An absent
// subscriber or absent topics are tolerated no-ops.
func (r *Registry) Remove(sub core.Subscriber, topics []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.listeners[sub]
	if !ok {
		return
	}
	for _, t := range topics {
		delete(set, t)
	}
}

// Delete removes the subscriber's entry entirely. Idempotent.
func (r *Registry) Delete(sub core.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, sub)
}

// Matching returns every subscriber whose topic set intersects topics.
// The result is a point-in-time snapshot: a subscriber added or removed
// concurrently either is or is not included.
func (r *Registry) Matching(topics []string) []core.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Subscriber
	for sub, set := range r.listeners {
		for _, t := range topics {
			if _, ok := set[t]; ok {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

// Topics returns a copy of the subscriber's current topic set.
func (r *Registry) Topics(sub core.Subscriber) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.listeners[sub]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Len reports the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
