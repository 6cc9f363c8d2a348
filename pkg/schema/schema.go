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

// Package schema holds the static per-model permission table. It is
// loaded once at startup, consumed read-only by the authorization check,
// and echoed to clients in the open frame for discovery.
package schema

// Routes recognized by the permission table.
const (
	RouteCollection = "/"
	RouteItem       = "/:id"
)

// PermissionPubhash marks a rule that requires the request envelope to
// carry a pubhash field.
const PermissionPubhash = "pubhash"

// Model describes one subscribable model: its JSON-schema style shape
// plus the permission tokens required per route and HTTP method.
type Model struct {
	Title       string                         `yaml:"title" json:"title,omitempty"`
	Description string                         `yaml:"description" json:"description,omitempty"`
	Type        string                         `yaml:"type" json:"type,omitempty"`
	Required    []string                       `yaml:"required" json:"required,omitempty"`
	Properties  map[string]any                 `yaml:"properties" json:"properties,omitempty"`
	Routes      map[string]map[string][]string `yaml:"routes" json:"routes"`
}

// Table maps a model name to its schema. Immutable after load.
type Table map[string]Model

// Permissions returns the permission tokens configured for the given
// model, route and HTTP method. The second return is false when the
// model, route or method is not defined at all.
func (t Table) Permissions(model, route, method string) ([]string, bool) {
	m, ok := t[model]
	if !ok {
		return nil, false
	}
	r, ok := m.Routes[route]
	if !ok {
		return nil, false
	}
	perms, ok := r[method]
	if !ok {
		return nil, false
	}
	return perms, true
}

// Has reports whether the table defines the given model.
func (t Table) Has(model string) bool {
	_, ok := t[model]
	return ok
}
